package wv

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/hex"
	"math/rand"
	"regexp"
	"sync"
	"testing"
	"time"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func TestRandomBytes(t *testing.T) {
	cdm := newTestCDM(t, DeviceTypeChrome)

	b, err := cdm.randomBytes(16)
	require.NoError(t, err)
	assert.Equal(t, 16, len(b))
	b, err = cdm.randomBytes(32)
	require.NoError(t, err)
	assert.Equal(t, 32, len(b))
}

func TestSessionLifecycle(t *testing.T) {
	cdm := newTestCDM(t, DeviceTypeChrome)

	ids := make(map[string]bool)
	for i := 0; i < MaxSessions; i++ {
		id, err := cdm.OpenSession()
		require.NoError(t, err)
		assert.Len(t, id, 32)
		ids[id] = true
	}
	assert.Len(t, ids, MaxSessions)

	_, err := cdm.OpenSession()
	assert.ErrorIs(t, err, ErrSession)

	assert.ErrorIs(t, cdm.CloseSession("00112233445566778899aabbccddeeff"), ErrSession)

	var closed string
	for id := range ids {
		closed = id
		break
	}
	require.NoError(t, cdm.CloseSession(closed))
	assert.ErrorIs(t, cdm.CloseSession(closed), ErrSession)

	_, err = cdm.GetLicenseChallenge(closed, testPSSH(t), wvpb.LicenseType_STREAMING, false)
	assert.ErrorIs(t, err, ErrSession)
	_, err = cdm.ParseLicense(closed, []byte{})
	assert.ErrorIs(t, err, ErrSession)
	_, err = cdm.GetServiceCertificate(closed)
	assert.ErrorIs(t, err, ErrSession)
	_, err = cdm.SetServiceCertificate(closed, nil)
	assert.ErrorIs(t, err, ErrSession)
	_, err = cdm.GetKeys(closed, 0)
	assert.ErrorIs(t, err, ErrSession)

	reopened, err := cdm.OpenSession()
	require.NoError(t, err)
	s, err := cdm.GetSession(reopened)
	require.NoError(t, err)
	assert.Equal(t, MaxSessions+1, s.Number)
}

func TestSessionsConcurrent(t *testing.T) {
	cdm := newTestCDM(t, DeviceTypeChrome, WithRandom(rand.New(rand.NewSource(7))))

	var wg sync.WaitGroup
	errs := make(chan error, MaxSessions)
	for i := 0; i < MaxSessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := cdm.OpenSession()
			if err == nil {
				err = cdm.CloseSession(id)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestLicenseFlow(t *testing.T) {
	cdm := newTestCDM(t, DeviceTypeChrome, WithNow(func() time.Time { return time.Unix(1700000000, 0) }))

	sessionID, err := cdm.OpenSession()
	require.NoError(t, err)

	challenge, err := cdm.GetLicenseChallenge(sessionID, testPSSH(t), 0, true)
	require.NoError(t, err)

	signed := &wvpb.SignedMessage{}
	require.NoError(t, proto.Unmarshal(challenge, signed))
	req := &wvpb.LicenseRequest{}
	require.NoError(t, proto.Unmarshal(signed.GetMsg(), req))

	assert.Equal(t, wvpb.LicenseRequest_NEW, req.GetType())
	assert.Equal(t, int64(1700000000), req.GetRequestTime())
	assert.Equal(t, wvpb.ProtocolVersion_VERSION_2_1, req.GetProtocolVersion())
	assert.Nil(t, req.GetEncryptedClientId())
	assert.True(t, proto.Equal(cdm.Device().ClientID(), req.GetClientId()))

	psshData := req.GetContentId().GetWidevinePsshData()
	assert.Equal(t, wvpb.LicenseType_STREAMING, psshData.GetLicenseType())
	assert.Equal(t, [][]byte{testPSSH(t).RawData()}, psshData.GetPsshData())
	assert.Len(t, psshData.GetRequestId(), 16)

	s, err := cdm.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.PendingRequests())

	signingKey := bytes.Repeat([]byte{0x5a}, 32)
	license := issueLicense(t, challenge, []licenseKey{
		{id: nil, key: signingKey, typ: wvpb.License_KeyContainer_SIGNING},
		{
			id:  testKeyID,
			key: testContentKey,
			typ: wvpb.License_KeyContainer_CONTENT,
			control: &KeyControlBlock{
				Verification: [4]byte{'k', 'c', '1', '6'},
				Nonce:        req.GetKeyControlNonce(),
				Control:      ControlAllowDecrypt | ControlNonceEnabled,
			},
		},
	}, licenseOptions{})

	keys, err := cdm.ParseLicense(sessionID, license)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, wvpb.License_KeyContainer_SIGNING, keys[0].Type)
	assert.Equal(t, signingKey, keys[0].Key)
	assert.Nil(t, keys[0].Control)

	assert.Equal(t, wvpb.License_KeyContainer_CONTENT, keys[1].Type)
	assert.Equal(t, hex.EncodeToString(testKeyID), keys[1].KeyIdHex())
	assert.Equal(t, hex.EncodeToString(testContentKey), keys[1].KeyHex())
	require.NotNil(t, keys[1].Control)
	assert.True(t, keys[1].Control.Unlimited())
	assert.True(t, keys[1].Control.AllowDecrypt())
	assert.Equal(t, req.GetKeyControlNonce(), keys[1].Control.Nonce)

	assert.Equal(t, 0, s.PendingRequests())

	content, err := cdm.GetKeys(sessionID, CONTENT)
	require.NoError(t, err)
	require.Len(t, content, 1)
	assert.Equal(t, testContentKey, content[0].Key)

	all, err := cdm.GetKeys(sessionID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// one-shot: the request context was consumed
	_, err = cdm.ParseLicense(sessionID, license)
	assert.ErrorIs(t, err, ErrProtocolOrder)
}

func TestParseLicenseCoreMessage(t *testing.T) {
	cdm := newTestCDM(t, DeviceTypeChrome)
	sessionID, err := cdm.OpenSession()
	require.NoError(t, err)

	challenge, err := cdm.GetLicenseChallenge(sessionID, testPSSH(t), wvpb.LicenseType_OFFLINE, false)
	require.NoError(t, err)

	license := issueLicense(t, challenge, []licenseKey{
		{id: testKeyID, key: testContentKey, typ: wvpb.License_KeyContainer_CONTENT},
	}, licenseOptions{coreMessage: []byte("oemcrypto core message")})

	keys, err := cdm.ParseLicense(sessionID, license)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, testContentKey, keys[0].Key)
}

func TestParseLicenseTampered(t *testing.T) {
	cdm := newTestCDM(t, DeviceTypeChrome)
	sessionID, err := cdm.OpenSession()
	require.NoError(t, err)

	challenge, err := cdm.GetLicenseChallenge(sessionID, testPSSH(t), wvpb.LicenseType_STREAMING, false)
	require.NoError(t, err)

	license := issueLicense(t, challenge, []licenseKey{
		{id: testKeyID, key: testContentKey, typ: wvpb.License_KeyContainer_CONTENT},
	}, licenseOptions{})

	signed := &wvpb.SignedMessage{}
	require.NoError(t, proto.Unmarshal(license, signed))

	tampered := proto.Clone(signed).(*wvpb.SignedMessage)
	// flip a bit inside the first key container, keeping the message parseable
	idx := bytes.Index(tampered.Msg, testKeyID)
	require.GreaterOrEqual(t, idx, 0)
	tampered.Msg[idx] ^= 0x01
	tamperedBytes, err := proto.Marshal(tampered)
	require.NoError(t, err)

	_, err = cdm.ParseLicense(sessionID, tamperedBytes)
	assert.ErrorIs(t, err, ErrSignature)

	badSig := proto.Clone(signed).(*wvpb.SignedMessage)
	badSig.Signature[0] ^= 0x80
	badSigBytes, err := proto.Marshal(badSig)
	require.NoError(t, err)

	_, err = cdm.ParseLicense(sessionID, badSigBytes)
	assert.ErrorIs(t, err, ErrSignature)

	// failures leave the request pending, the genuine license still applies
	keys, err := cdm.ParseLicense(sessionID, license)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestParseLicenseProtocolErrors(t *testing.T) {
	cdm := newTestCDM(t, DeviceTypeChrome)
	sessionID, err := cdm.OpenSession()
	require.NoError(t, err)

	challenge, err := cdm.GetLicenseChallenge(sessionID, testPSSH(t), wvpb.LicenseType_STREAMING, false)
	require.NoError(t, err)

	wrongType := issueLicense(t, challenge, nil, licenseOptions{msgType: wvpb.SignedMessage_SERVICE_CERTIFICATE})
	_, err = cdm.ParseLicense(sessionID, wrongType)
	assert.ErrorIs(t, err, ErrProtocolOrder)

	// a license for a request made in another session
	other, err := cdm.OpenSession()
	require.NoError(t, err)
	license := issueLicense(t, challenge, nil, licenseOptions{})
	_, err = cdm.ParseLicense(other, license)
	assert.ErrorIs(t, err, ErrProtocolOrder)

	_, err = cdm.ParseLicense(sessionID, []byte{0xff, 0xff})
	assert.ErrorIs(t, err, ErrFormat)

	_, err = cdm.ParseLicense(sessionID, license)
	assert.NoError(t, err)
}

func TestParseLicenseBadKeyControl(t *testing.T) {
	cdm := newTestCDM(t, DeviceTypeChrome)
	sessionID, err := cdm.OpenSession()
	require.NoError(t, err)

	challenge, err := cdm.GetLicenseChallenge(sessionID, testPSSH(t), wvpb.LicenseType_STREAMING, false)
	require.NoError(t, err)

	license := issueLicense(t, challenge, []licenseKey{
		{id: testKeyID, key: testContentKey, typ: wvpb.License_KeyContainer_CONTENT, rawControl: make([]byte, 32)},
	}, licenseOptions{})

	_, err = cdm.ParseLicense(sessionID, license)
	assert.ErrorIs(t, err, ErrFormat)

	s, err := cdm.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.PendingRequests())
}

func TestServiceCertificate(t *testing.T) {
	cdm := newTestCDM(t, DeviceTypeChrome)
	sessionID, err := cdm.OpenSession()
	require.NoError(t, err)

	cert, err := cdm.GetServiceCertificate(sessionID)
	require.NoError(t, err)
	assert.Nil(t, cert)

	provider, err := cdm.SetServiceCertificate(sessionID, nil)
	require.NoError(t, err)
	assert.Empty(t, provider)

	provider, err = cdm.SetServiceCertificate(sessionID, signedServiceCert(t, "example.com", true))
	require.NoError(t, err)
	assert.Equal(t, "example.com", provider)

	provider, err = cdm.SetServiceCertificate(sessionID, signedServiceCert(t, "bare.example.com", false))
	require.NoError(t, err)
	assert.Equal(t, "bare.example.com", provider)

	cert, err = cdm.GetServiceCertificate(sessionID)
	require.NoError(t, err)
	require.NotNil(t, cert)

	provider, err = cdm.SetServiceCertificate(sessionID, nil)
	require.NoError(t, err)
	assert.Equal(t, "bare.example.com", provider)

	cert, err = cdm.GetServiceCertificate(sessionID)
	require.NoError(t, err)
	assert.Nil(t, cert)
}

func TestServiceCertificateUntrusted(t *testing.T) {
	cdm := NewCDM(getDevice(t, DeviceTypeChrome))
	sessionID, err := cdm.OpenSession()
	require.NoError(t, err)

	_, err = cdm.SetServiceCertificate(sessionID, signedServiceCert(t, "example.com", true))
	assert.ErrorIs(t, err, ErrSignature)

	cert, err := cdm.GetServiceCertificate(sessionID)
	require.NoError(t, err)
	assert.Nil(t, cert)

	_, err = cdm.SetServiceCertificate(sessionID, []byte{0x01})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestPrivacyMode(t *testing.T) {
	keys := getTestKeys(t)
	cdm := newTestCDM(t, DeviceTypeChrome)
	sessionID, err := cdm.OpenSession()
	require.NoError(t, err)

	_, err = cdm.SetServiceCertificate(sessionID, signedServiceCert(t, "example.com", true))
	require.NoError(t, err)

	challenge, err := cdm.GetLicenseChallenge(sessionID, testPSSH(t), wvpb.LicenseType_STREAMING, true)
	require.NoError(t, err)

	signed := &wvpb.SignedMessage{}
	require.NoError(t, proto.Unmarshal(challenge, signed))
	req := &wvpb.LicenseRequest{}
	require.NoError(t, proto.Unmarshal(signed.GetMsg(), req))

	assert.Nil(t, req.GetClientId())
	enc := req.GetEncryptedClientId()
	require.NotNil(t, enc)
	assert.Equal(t, "example.com", enc.GetProviderId())
	assert.Equal(t, []byte("service-serial"), enc.GetServiceCertificateSerialNumber())

	// the service can recover the client id
	privacyKey, err := rsa.DecryptOAEP(sha1.New(), nil, keys.service, enc.GetEncryptedPrivacyKey(), nil)
	require.NoError(t, err)
	raw, err := DecryptAES(privacyKey, enc.GetEncryptedClientIdIv(), enc.GetEncryptedClientId())
	require.NoError(t, err)

	clientID := &wvpb.ClientIdentification{}
	require.NoError(t, proto.Unmarshal(raw, clientID))
	assert.True(t, proto.Equal(cdm.Device().ClientID(), clientID))

	// privacy mode off sends the client id in the clear even with a certificate
	challenge, err = cdm.GetLicenseChallenge(sessionID, testPSSH(t), wvpb.LicenseType_STREAMING, false)
	require.NoError(t, err)
	require.NoError(t, proto.Unmarshal(challenge, signed))
	req = &wvpb.LicenseRequest{}
	require.NoError(t, proto.Unmarshal(signed.GetMsg(), req))
	assert.NotNil(t, req.GetClientId())
	assert.Nil(t, req.GetEncryptedClientId())

	s, err := cdm.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.PendingRequests())
}

func TestEncryptClientIDDeterministic(t *testing.T) {
	keys := getTestKeys(t)
	d := getDevice(t, DeviceTypeChrome)
	_, signed, err := ParseServiceCert(signedServiceCert(t, "example.com", false))
	require.NoError(t, err)

	key := bytes.Repeat([]byte{0x01}, 16)
	iv := bytes.Repeat([]byte{0x02}, 16)

	first, err := EncryptClientID(rand.New(rand.NewSource(1)), d.ClientID(), signed, key, iv)
	require.NoError(t, err)
	second, err := EncryptClientID(rand.New(rand.NewSource(2)), d.ClientID(), signed, key, iv)
	require.NoError(t, err)

	assert.Equal(t, iv, first.GetEncryptedClientIdIv())
	assert.Equal(t, first.GetEncryptedClientId(), second.GetEncryptedClientId())

	privacyKey, err := rsa.DecryptOAEP(sha1.New(), nil, keys.service, first.GetEncryptedPrivacyKey(), nil)
	require.NoError(t, err)
	assert.Equal(t, key, privacyKey)
}

var androidRequestID = regexp.MustCompile(`^[0-9A-F]{8}00000000([0-9A-F]{16})$`)

func TestAndroidRequestID(t *testing.T) {
	cdm := newTestCDM(t, DeviceTypeAndroid, WithRandom(rand.New(rand.NewSource(1))))

	_, err := cdm.OpenSession()
	require.NoError(t, err)
	sessionID, err := cdm.OpenSession()
	require.NoError(t, err)

	challenge, err := cdm.GetLicenseChallenge(sessionID, testPSSH(t), wvpb.LicenseType_STREAMING, false)
	require.NoError(t, err)

	signed := &wvpb.SignedMessage{}
	require.NoError(t, proto.Unmarshal(challenge, signed))
	req := &wvpb.LicenseRequest{}
	require.NoError(t, proto.Unmarshal(signed.GetMsg(), req))

	requestID := string(req.GetContentId().GetWidevinePsshData().GetRequestId())
	m := androidRequestID.FindStringSubmatch(requestID)
	require.NotNil(t, m, requestID)
	assert.Equal(t, "0200000000000000", m[1])

	license := issueLicense(t, challenge, []licenseKey{
		{id: testKeyID, key: testContentKey, typ: wvpb.License_KeyContainer_CONTENT},
	}, licenseOptions{})
	keys, err := cdm.ParseLicense(sessionID, license)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestDeterministicChallenge(t *testing.T) {
	device := getDevice(t, DeviceTypeAndroid)
	keys := getTestKeys(t)
	now := func() time.Time { return time.Unix(0, 0) }

	challenge := func() []byte {
		cdm := NewCDM(device,
			WithRandom(rand.New(rand.NewSource(42))),
			WithNow(now),
			WithRootPublicKey(&keys.root.PublicKey))
		sessionID, err := cdm.OpenSession()
		require.NoError(t, err)
		c, err := cdm.GetLicenseChallenge(sessionID, testPSSH(t), wvpb.LicenseType_AUTOMATIC, false)
		require.NoError(t, err)
		return c
	}

	assert.Equal(t, challenge(), challenge())
}
