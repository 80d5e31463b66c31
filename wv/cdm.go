package wv

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"
)

// MaxSessions is the default number of sessions a CDM keeps open at once.
const MaxSessions = 16

// CDM implements the Widevine CDM protocol.
type CDM struct {
	device      *Device
	rand        io.Reader
	now         func() time.Time
	logger      zerolog.Logger
	root        *rsa.PublicKey
	maxSessions int

	mu       sync.Mutex
	sessions map[string]*Session
	sequence int
}

type CDMOption func(*CDM)

func defaultCDMOptions() []CDMOption {
	return []CDMOption{
		WithRandom(rand.Reader),
		WithNow(time.Now),
		WithLogger(zerolog.Nop()),
		WithRootPublicKey(RootPublicKey()),
		WithMaxSessions(MaxSessions),
	}
}

// WithRandom sets the random source of the CDM. It is used for session ids,
// request ids, nonces, privacy keys and RSA padding.
func WithRandom(source io.Reader) CDMOption {
	return func(c *CDM) {
		c.rand = &lockedReader{r: source}
	}
}

// WithNow sets the time now source of the CDM.
func WithNow(now func() time.Time) CDMOption {
	return func(c *CDM) {
		c.now = now
	}
}

// WithLogger sets the logger of the CDM. Key material is never logged.
func WithLogger(logger zerolog.Logger) CDMOption {
	return func(c *CDM) {
		c.logger = logger
	}
}

// WithRootPublicKey replaces the key service certificates are verified against.
func WithRootPublicKey(root *rsa.PublicKey) CDMOption {
	return func(c *CDM) {
		c.root = root
	}
}

// WithMaxSessions sets how many sessions may be open at once.
func WithMaxSessions(n int) CDMOption {
	return func(c *CDM) {
		c.maxSessions = n
	}
}

// NewCDM creates a new CDM.
//
// Get device by calling NewDevice.
func NewCDM(device *Device, opts ...CDMOption) *CDM {
	if device == nil {
		panic("device cannot be nil")
	}

	c := &CDM{
		device:   device,
		sessions: make(map[string]*Session),
	}

	for _, opt := range defaultCDMOptions() {
		opt(c)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Device returns the device the CDM acts as.
func (c *CDM) Device() *Device {
	return c.device
}

func (c *CDM) SystemID() uint32 {
	return c.device.SystemID()
}

// OpenSession opens a new session and returns its hex id.
func (c *CDM) OpenSession() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.sessions) >= c.maxSessions {
		return "", fmt.Errorf("%w: too many sessions (%d open)", ErrSession, len(c.sessions))
	}

	id, err := c.randomBytes(16)
	if err != nil {
		return "", err
	}

	c.sequence++
	session := newSession(c.sequence, id)
	sessionID := session.HexId()
	if _, ok := c.sessions[sessionID]; ok {
		return "", fmt.Errorf("%w: session id collision", ErrSession)
	}
	c.sessions[sessionID] = session

	c.logger.Debug().Str("session_id", sessionID).Int("number", session.Number).Msg("session opened")
	return sessionID, nil
}

// CloseSession closes a session and drops its pending requests and keys.
func (c *CDM) CloseSession(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: session identifier %q is invalid", ErrSession, sessionID)
	}
	delete(c.sessions, sessionID)

	c.logger.Debug().Str("session_id", sessionID).Msg("session closed")
	return nil
}

// GetSession returns an open session.
func (c *CDM) GetSession(sessionID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session identifier %q is invalid", ErrSession, sessionID)
	}
	return s, nil
}

// GetServiceCertificate returns the service certificate of the session, nil if none is set.
func (c *CDM) GetServiceCertificate(sessionID string) (*wvpb.SignedDrmCertificate, error) {
	s, err := c.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.serviceCert(), nil
}

// SetServiceCertificate verifies a service certificate against the root key
// and caches it on the session for privacy mode. It returns the provider id
// of the certificate.
//
// cert is either a SignedMessage holding a SignedDrmCertificate or a bare
// SignedDrmCertificate. A nil cert removes the cached certificate and returns
// the provider id it had, or "" if none was set.
func (c *CDM) SetServiceCertificate(sessionID string, cert []byte) (string, error) {
	s, err := c.GetSession(sessionID)
	if err != nil {
		return "", err
	}

	if cert == nil {
		old := s.swapServiceCert(nil)
		if old == nil {
			return "", nil
		}
		drmCert := &wvpb.DrmCertificate{}
		if err = proto.Unmarshal(old.GetDrmCertificate(), drmCert); err != nil {
			return "", fmt.Errorf("%w: unmarshal drm certificate: %v", ErrFormat, err)
		}
		return drmCert.GetProviderId(), nil
	}

	drmCert, signedCert, err := ParseServiceCert(cert)
	if err != nil {
		return "", fmt.Errorf("parse service cert: %w", err)
	}
	if err = VerifyServiceCert(c.root, signedCert); err != nil {
		return "", err
	}

	s.swapServiceCert(signedCert)

	c.logger.Debug().
		Str("session_id", sessionID).
		Str("provider_id", drmCert.GetProviderId()).
		Msg("service certificate set")
	return drmCert.GetProviderId(), nil
}

// GetLicenseChallenge returns a signed license request for the given PSSH.
//
// A zero typ means STREAMING. With privacyMode set and a service certificate
// cached on the session, the client id is encrypted for the license server;
// otherwise it is sent in the clear.
func (c *CDM) GetLicenseChallenge(sessionID string, pssh *PSSH, typ wvpb.LicenseType, privacyMode bool) ([]byte, error) {
	s, err := c.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if pssh == nil {
		return nil, fmt.Errorf("%w: missing pssh", ErrFormat)
	}
	if typ == 0 {
		typ = wvpb.LicenseType_STREAMING
	}

	requestID, err := c.requestID(s)
	if err != nil {
		return nil, err
	}

	nonce, err := c.randomBytes(4)
	if err != nil {
		return nil, err
	}

	req := &wvpb.LicenseRequest{
		Type:            wvpb.LicenseRequest_NEW.Enum(),
		RequestTime:     Pointer(c.now().Unix()),
		ProtocolVersion: wvpb.ProtocolVersion_VERSION_2_1.Enum(),
		KeyControlNonce: Pointer(binary.BigEndian.Uint32(nonce)),
		ContentId: &wvpb.LicenseRequest_ContentIdentification{
			ContentIdVariant: &wvpb.LicenseRequest_ContentIdentification_WidevinePsshData_{
				WidevinePsshData: &wvpb.LicenseRequest_ContentIdentification_WidevinePsshData{
					PsshData:    [][]byte{pssh.RawData()},
					LicenseType: typ.Enum(),
					RequestId:   requestID,
				},
			},
		},
	}

	// set client id
	if serviceCert := s.serviceCert(); privacyMode && serviceCert != nil {
		encClientID, err := EncryptClientID(c.rand, c.device.ClientID(), serviceCert, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("encrypt client id: %w", err)
		}
		req.EncryptedClientId = encClientID
	} else {
		req.ClientId = c.device.ClientID()
	}

	reqData, err := proto.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal license request: %w", err)
	}

	// signed license request signature
	hashed := sha1.Sum(reqData)
	pss, err := rsa.SignPSS(
		c.rand,
		c.device.PrivateKey(),
		crypto.SHA1,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return nil, fmt.Errorf("%w: sign pss: %v", ErrKeyMaterial, err)
	}

	msg := &wvpb.SignedMessage{
		Type:      wvpb.SignedMessage_LICENSE_REQUEST.Enum(),
		Msg:       reqData,
		Signature: pss,
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal signed message: %w", err)
	}

	s.setContext(requestID, DeriveContexts(reqData))

	c.logger.Debug().
		Str("session_id", sessionID).
		Str("request_id", hex.EncodeToString(requestID)).
		Str("license_type", typ.String()).
		Bool("privacy_mode", req.EncryptedClientId != nil).
		Msg("license challenge created")
	return data, nil
}

// requestID returns 16 random bytes, or for Android devices the upper-case
// hex of 4 random bytes, 4 zero bytes and the little-endian session number.
func (c *CDM) requestID(s *Session) ([]byte, error) {
	if c.device.Type() != DeviceTypeAndroid {
		return c.randomBytes(16)
	}

	random, err := c.randomBytes(4)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 16)
	copy(raw, random)
	binary.LittleEndian.PutUint64(raw[8:], uint64(s.Number))

	return []byte(strings.ToUpper(hex.EncodeToString(raw))), nil
}

// ParseLicense verifies a license response against the challenge it answers
// and returns its decrypted keys. The matching request is consumed only when
// the whole license is valid, so a failed response can be retried.
func (c *CDM) ParseLicense(sessionID string, license []byte) ([]*Key, error) {
	s, err := c.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	signedMsg := &wvpb.SignedMessage{}
	if err = proto.Unmarshal(license, signedMsg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal signed message: %v", ErrFormat, err)
	}
	if signedMsg.GetType() != wvpb.SignedMessage_LICENSE {
		return nil, fmt.Errorf("%w: invalid license type: %v", ErrProtocolOrder, signedMsg.GetType())
	}

	licenseMsg := &wvpb.License{}
	if err = proto.Unmarshal(signedMsg.GetMsg(), licenseMsg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal license message: %v", ErrFormat, err)
	}

	requestID := licenseMsg.GetId().GetRequestId()
	ctx, ok := s.lookupContext(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: no outstanding license request %x", ErrProtocolOrder, requestID)
	}

	sessionKey, err := rsa.DecryptOAEP(sha1.New(), c.rand, c.device.PrivateKey(), signedMsg.GetSessionKey(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt session key: %v", ErrKeyMaterial, err)
	}
	if len(sessionKey) != sessionKeyLength {
		return nil, fmt.Errorf("%w: invalid session key length: %d", ErrFormat, len(sessionKey))
	}

	derived, err := DeriveKeys(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	licenseMsgHMAC := hmac.New(sha256.New, derived.MacServer)
	licenseMsgHMAC.Write(signedMsg.GetOemcryptoCoreMessage())
	licenseMsgHMAC.Write(signedMsg.GetMsg())
	expectedHMAC := licenseMsgHMAC.Sum(nil)
	if !hmac.Equal(signedMsg.GetSignature(), expectedHMAC) {
		return nil, fmt.Errorf("%w: license signature mismatch", ErrSignature)
	}

	keys := make([]*Key, 0, len(licenseMsg.GetKey()))
	for _, container := range licenseMsg.GetKey() {
		key, err := keyFromContainer(container, derived.Enc)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if !s.completeRequest(requestID, keys) {
		return nil, fmt.Errorf("%w: license request %x already answered", ErrProtocolOrder, requestID)
	}

	c.logger.Debug().
		Str("session_id", sessionID).
		Str("request_id", hex.EncodeToString(requestID)).
		Int("keys", len(keys)).
		Msg("license parsed")
	return keys, nil
}

// GetKeys returns the keys of the last license parsed in the session,
// filtered by type unless keyType is 0.
func (c *CDM) GetKeys(sessionID string, keyType KeyType) ([]*Key, error) {
	s, err := c.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	all := s.Keys()
	if keyType == 0 {
		return all, nil
	}

	keys := make([]*Key, 0)
	for _, key := range all {
		if KeyType(key.Type) == keyType {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (c *CDM) randomBytes(length int) ([]byte, error) {
	return readRandom(c.rand, length)
}

// lockedReader serializes reads so a non thread-safe source can back a shared CDM.
type lockedReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (l *lockedReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Read(p)
}
