package wv

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"sync"
	"testing"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

type testKeys struct {
	device  *rsa.PrivateKey
	root    *rsa.PrivateKey
	service *rsa.PrivateKey
}

var (
	testKeysOnce sync.Once
	testKeysVal  testKeys
	testKeysErr  error
)

func getTestKeys(t require.TestingT) testKeys {
	testKeysOnce.Do(func() {
		for _, k := range []**rsa.PrivateKey{&testKeysVal.device, &testKeysVal.root, &testKeysVal.service} {
			if *k, testKeysErr = rsa.GenerateKey(crand.Reader, 2048); testKeysErr != nil {
				return
			}
		}
	})
	require.NoError(t, testKeysErr)
	return testKeysVal
}

const testSystemID = 4464

func testClientID(t require.TestingT, publicKey *rsa.PublicKey) []byte {
	cert := &wvpb.DrmCertificate{
		SerialNumber: []byte{0xde, 0xad, 0xbe, 0xef},
		SystemId:     Pointer(uint32(testSystemID)),
	}
	if publicKey != nil {
		cert.PublicKey = x509.MarshalPKCS1PublicKey(publicKey)
	}
	certData, err := proto.Marshal(cert)
	require.NoError(t, err)

	token, err := proto.Marshal(&wvpb.SignedDrmCertificate{
		DrmCertificate: certData,
		Signature:      []byte("device-model-signature"),
	})
	require.NoError(t, err)

	clientID, err := proto.Marshal(&wvpb.ClientIdentification{
		Token:               token,
		ProviderClientToken: []byte("provider-client-token"),
	})
	require.NoError(t, err)
	return clientID
}

func getDevice(t require.TestingT, typ DeviceType) *Device {
	keys := getTestKeys(t)
	d, err := NewDevice(FromRaw(typ, 3, testClientID(t, &keys.device.PublicKey), x509.MarshalPKCS1PrivateKey(keys.device)))
	require.NoError(t, err)
	return d
}

// signedServiceCert returns a root signed service certificate, wrapped in a
// SignedMessage when envelope is set.
func signedServiceCert(t require.TestingT, providerID string, envelope bool) []byte {
	keys := getTestKeys(t)

	certData, err := proto.Marshal(&wvpb.DrmCertificate{
		SerialNumber: []byte("service-serial"),
		PublicKey:    x509.MarshalPKCS1PublicKey(&keys.service.PublicKey),
		ProviderId:   Pointer(providerID),
	})
	require.NoError(t, err)

	hashed := sha1.Sum(certData)
	sig, err := rsa.SignPSS(crand.Reader, keys.root, crypto.SHA1, hashed[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	require.NoError(t, err)

	signed, err := proto.Marshal(&wvpb.SignedDrmCertificate{DrmCertificate: certData, Signature: sig})
	require.NoError(t, err)
	if !envelope {
		return signed
	}

	msg, err := proto.Marshal(&wvpb.SignedMessage{
		Type: wvpb.SignedMessage_SERVICE_CERTIFICATE.Enum(),
		Msg:  signed,
	})
	require.NoError(t, err)
	return msg
}

func testPSSH(t require.TestingT) *PSSH {
	data, err := proto.Marshal(&wvpb.WidevinePsshData{
		KeyIds:    [][]byte{testKeyID},
		ContentId: []byte("content-1"),
	})
	require.NoError(t, err)

	p, err := NewPSSHBox(0, 0, WidevineSystemID, nil, data)
	require.NoError(t, err)
	return p
}

var (
	testKeyID      = []byte{0xdf, 0x6e, 0xf2, 0xf5, 0xfd, 0x83, 0x07, 0x80, 0x91, 0xa7, 0x85, 0x66, 0xc8, 0xd0, 0x19, 0x25}
	testContentKey = []byte{0x20, 0xbe, 0x40, 0x41, 0xa3, 0x3c, 0x7a, 0x08, 0x1e, 0x43, 0xb2, 0xb4, 0x37, 0x8d, 0x6d, 0x5c}
)

type licenseKey struct {
	id      []byte
	key     []byte
	typ     wvpb.License_KeyContainer_KeyType
	control *KeyControlBlock
	// rawControl overrides the encrypted key control block.
	rawControl []byte
}

type licenseOptions struct {
	coreMessage []byte
	msgType     wvpb.SignedMessage_MessageType
}

// issueLicense plays the license server: it answers a challenge with a
// License whose keys are wrapped under keys derived from the request.
func issueLicense(t *testing.T, challenge []byte, lkeys []licenseKey, opts licenseOptions) []byte {
	t.Helper()
	keys := getTestKeys(t)

	signed := &wvpb.SignedMessage{}
	require.NoError(t, proto.Unmarshal(challenge, signed))
	require.Equal(t, wvpb.SignedMessage_LICENSE_REQUEST, signed.GetType())

	hashed := sha1.Sum(signed.GetMsg())
	require.NoError(t, rsa.VerifyPSS(&keys.device.PublicKey, crypto.SHA1, hashed[:], signed.GetSignature(), nil))

	req := &wvpb.LicenseRequest{}
	require.NoError(t, proto.Unmarshal(signed.GetMsg(), req))
	requestID := req.GetContentId().GetWidevinePsshData().GetRequestId()

	sessionKey := make([]byte, 16)
	_, err := crand.Read(sessionKey)
	require.NoError(t, err)

	derived, err := DeriveKeys(DeriveContexts(signed.GetMsg()), sessionKey)
	require.NoError(t, err)

	license := &wvpb.License{
		Id: &wvpb.LicenseIdentification{RequestId: requestID},
	}
	for _, lk := range lkeys {
		iv := make([]byte, 16)
		_, err = crand.Read(iv)
		require.NoError(t, err)

		encKey, err := EncryptAES(derived.Enc, iv, lk.key)
		require.NoError(t, err)

		container := &wvpb.License_KeyContainer{
			Id:   lk.id,
			Iv:   iv,
			Key:  encKey,
			Type: lk.typ.Enum(),
		}
		if lk.control != nil || lk.rawControl != nil {
			kcIV := make([]byte, 16)
			_, err = crand.Read(kcIV)
			require.NoError(t, err)

			block := lk.rawControl
			if block == nil {
				block = encryptBlocks(t, lk.key, kcIV, lk.control.Bytes())
			}
			container.KeyControl = &wvpb.License_KeyContainer_KeyControl{
				KeyControlBlock: block,
				Iv:              kcIV,
			}
		}
		license.Key = append(license.Key, container)
	}

	msg, err := proto.Marshal(license)
	require.NoError(t, err)

	encSessionKey, err := rsa.EncryptOAEP(sha1.New(), crand.Reader, &keys.device.PublicKey, sessionKey, nil)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, derived.MacServer)
	mac.Write(opts.coreMessage)
	mac.Write(msg)

	msgType := opts.msgType
	if msgType == 0 {
		msgType = wvpb.SignedMessage_LICENSE
	}

	resp, err := proto.Marshal(&wvpb.SignedMessage{
		Type:                 msgType.Enum(),
		Msg:                  msg,
		Signature:            mac.Sum(nil),
		SessionKey:           encSessionKey,
		OemcryptoCoreMessage: opts.coreMessage,
	})
	require.NoError(t, err)
	return resp
}

func encryptBlocks(t *testing.T, key, iv, plaintext []byte) []byte {
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out
}

func newTestCDM(t *testing.T, typ DeviceType, opts ...CDMOption) *CDM {
	keys := getTestKeys(t)
	opts = append([]CDMOption{WithRootPublicKey(&keys.root.PublicKey)}, opts...)
	return NewCDM(getDevice(t, typ), opts...)
}
