package wv

import "errors"

var (
	// ErrFormat reports a malformed box, device export, key blob or key control block.
	ErrFormat = errors.New("format error")
	// ErrSession reports an unknown session id or an exhausted session table.
	ErrSession = errors.New("session error")
	// ErrProtocolOrder reports a message that does not fit the request/response exchange,
	// such as a wrong message type or a license with no outstanding request.
	ErrProtocolOrder = errors.New("protocol order error")
	// ErrSignature reports a certificate or license signature that failed verification.
	ErrSignature = errors.New("signature error")
	// ErrKeyMaterial reports unusable RSA key material or a certificate without a key.
	ErrKeyMaterial = errors.New("key material error")
)
