package wv

import (
	"encoding/hex"
	"sync"

	wvpb "github.com/iyear/gowidevine/widevinepb"
)

type Session struct {
	Number int
	Id     []byte

	mu                 sync.Mutex
	context            map[string]Contexts
	serviceCertificate *wvpb.SignedDrmCertificate
	keys               []*Key
}

func newSession(number int, id []byte) *Session {
	return &Session{
		Number:  number,
		Id:      id,
		context: make(map[string]Contexts),
	}
}

func (s *Session) HexId() string {
	return hex.EncodeToString(s.Id)
}

// Keys returns the keys of the last parsed license.
func (s *Session) Keys() []*Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Key(nil), s.keys...)
}

// PendingRequests returns the number of challenges still waiting for a license.
func (s *Session) PendingRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.context)
}

func (s *Session) setContext(requestID []byte, ctx Contexts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context[hex.EncodeToString(requestID)] = ctx
}

func (s *Session) lookupContext(requestID []byte) (Contexts, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.context[hex.EncodeToString(requestID)]
	return ctx, ok
}

// completeRequest stores the keys of a license and drops its request context.
// It fails if another call consumed the context first.
func (s *Session) completeRequest(requestID []byte, keys []*Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := hex.EncodeToString(requestID)
	if _, ok := s.context[id]; !ok {
		return false
	}
	delete(s.context, id)
	s.keys = keys
	return true
}

func (s *Session) serviceCert() *wvpb.SignedDrmCertificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviceCertificate
}

func (s *Session) swapServiceCert(cert *wvpb.SignedDrmCertificate) *wvpb.SignedDrmCertificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.serviceCertificate
	s.serviceCertificate = cert
	return old
}
