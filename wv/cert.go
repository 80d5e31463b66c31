package wv

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

// decodeSignedDrmCertificate accepts the two encodings a certificate travels in:
//
//   - a SignedMessage with its type set and msg holding a SignedDrmCertificate,
//     which is what a license server answers to ServiceCertificateChallenge;
//   - a bare SignedDrmCertificate, as stored in a client id token.
//
// A bare certificate never carries a varint field 1, so the presence of the
// message type tells the two apart.
func decodeSignedDrmCertificate(b []byte) (*wvpb.SignedDrmCertificate, error) {
	msg := &wvpb.SignedMessage{}
	if err := proto.Unmarshal(b, msg); err == nil && msg.Type != nil && len(msg.GetMsg()) > 0 {
		signed := &wvpb.SignedDrmCertificate{}
		if err = proto.Unmarshal(msg.GetMsg(), signed); err != nil {
			return nil, fmt.Errorf("%w: unmarshal signed drm certificate: %v", ErrFormat, err)
		}
		if len(signed.GetDrmCertificate()) == 0 {
			return nil, fmt.Errorf("%w: signed message holds no drm certificate", ErrFormat)
		}
		return signed, nil
	}

	signed := &wvpb.SignedDrmCertificate{}
	if err := proto.Unmarshal(b, signed); err != nil {
		return nil, fmt.Errorf("%w: unmarshal signed drm certificate: %v", ErrFormat, err)
	}
	if len(signed.GetDrmCertificate()) == 0 {
		return nil, fmt.Errorf("%w: can't decode drm certificate", ErrFormat)
	}
	return signed, nil
}

// ParseServiceCert parses a service certificate which can be used in privacy mode.
// The signature is not checked; see VerifyServiceCert.
func ParseServiceCert(serviceCert []byte) (*wvpb.DrmCertificate, *wvpb.SignedDrmCertificate, error) {
	signedCert, err := decodeSignedDrmCertificate(serviceCert)
	if err != nil {
		return nil, nil, err
	}

	cert := &wvpb.DrmCertificate{}
	if err = proto.Unmarshal(signedCert.GetDrmCertificate(), cert); err != nil {
		return nil, nil, fmt.Errorf("%w: unmarshal drm certificate: %v", ErrFormat, err)
	}

	return cert, signedCert, nil
}

// VerifyServiceCert checks the RSASSA-PSS (SHA-1) signature of a signed
// certificate against root.
func VerifyServiceCert(root *rsa.PublicKey, signedCert *wvpb.SignedDrmCertificate) error {
	hashed := sha1.Sum(signedCert.GetDrmCertificate())
	err := rsa.VerifyPSS(root, crypto.SHA1, hashed[:], signedCert.GetSignature(), &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	})
	if err != nil {
		return fmt.Errorf("%w: service certificate: %v", ErrSignature, err)
	}
	return nil
}
