package wv

import (
	"crypto/aes"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
	"io"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

// EncryptClientID encrypts a client identification for the holder of a
// service certificate: the client id is AES-CBC encrypted under a fresh
// privacy key, and that key is RSA-OAEP (SHA-1) encrypted under the
// certificate public key. A nil key or iv is drawn from random.
func EncryptClientID(random io.Reader, clientID *wvpb.ClientIdentification, serviceCert *wvpb.SignedDrmCertificate, key, iv []byte) (*wvpb.EncryptedClientIdentification, error) {
	cert := &wvpb.DrmCertificate{}
	if err := proto.Unmarshal(serviceCert.GetDrmCertificate(), cert); err != nil {
		return nil, fmt.Errorf("%w: unmarshal drm certificate: %v", ErrFormat, err)
	}

	publicKey, err := ParsePublicKey(cert.GetPublicKey())
	if err != nil {
		return nil, fmt.Errorf("parse service public key: %w", err)
	}

	if key == nil {
		if key, err = readRandom(random, aes.BlockSize); err != nil {
			return nil, err
		}
	}
	if iv == nil {
		if iv, err = readRandom(random, aes.BlockSize); err != nil {
			return nil, err
		}
	}

	rawClientID, err := proto.Marshal(clientID)
	if err != nil {
		return nil, fmt.Errorf("marshal client id: %w", err)
	}

	encryptedClientID, err := EncryptAES(key, iv, rawClientID)
	if err != nil {
		return nil, fmt.Errorf("encrypt client id: %w", err)
	}

	encryptedPrivacyKey, err := rsa.EncryptOAEP(sha1.New(), random, publicKey, key, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt oaep: %w", err)
	}

	return &wvpb.EncryptedClientIdentification{
		ProviderId:                     cert.ProviderId,
		ServiceCertificateSerialNumber: cert.SerialNumber,
		EncryptedClientId:              encryptedClientID,
		EncryptedClientIdIv:            iv,
		EncryptedPrivacyKey:            encryptedPrivacyKey,
	}, nil
}
