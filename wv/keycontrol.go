package wv

import (
	"encoding/binary"
	"fmt"
	"time"
)

// KeyControlBlockSize is the size of a key control block.
const KeyControlBlockSize = 16

// Key control bits.
const (
	ControlObserveDataPath     uint32 = 1 << 31
	ControlObserveHDCP         uint32 = 1 << 30
	ControlObserveCGMS         uint32 = 1 << 29
	ControlRequireAntiRollback uint32 = 1 << 28
	ControlAllowHashVerify     uint32 = 1 << 24
	ControlSharedLicense       uint32 = 1 << 23
	ControlSRMVersionRequired  uint32 = 1 << 22
	ControlDisableAnalogOut    uint32 = 1 << 21
	ControlAllowEncrypt        uint32 = 1 << 8
	ControlAllowDecrypt        uint32 = 1 << 7
	ControlAllowSign           uint32 = 1 << 6
	ControlAllowVerify         uint32 = 1 << 5
	ControlDataPathSecure      uint32 = 1 << 4
	ControlNonceEnabled        uint32 = 1 << 3
	ControlHDCPRequired        uint32 = 1 << 2
	ControlCGMSMask            uint32 = 0x03

	controlHDCPVersionShift = 9
	controlHDCPVersionMask  = 0x0f
)

// KeyControlBlock describes the usage rules of a content key.
type KeyControlBlock struct {
	// Verification is the "kctl" or "kcNN" tag.
	Verification [4]byte
	// Duration is the key lifetime in seconds, 0 means unlimited.
	Duration uint32
	Nonce    uint32
	Control  uint32
}

// ParseKeyControlBlock parses a decrypted key control block.
func ParseKeyControlBlock(b []byte) (*KeyControlBlock, error) {
	if len(b) != KeyControlBlockSize {
		return nil, fmt.Errorf("%w: key control block must be %d bytes, got %d", ErrFormat, KeyControlBlockSize, len(b))
	}

	k := &KeyControlBlock{
		Duration: binary.BigEndian.Uint32(b[4:8]),
		Nonce:    binary.BigEndian.Uint32(b[8:12]),
		Control:  binary.BigEndian.Uint32(b[12:16]),
	}
	copy(k.Verification[:], b[:4])
	return k, nil
}

// Bytes encodes the block.
func (k *KeyControlBlock) Bytes() []byte {
	b := make([]byte, KeyControlBlockSize)
	copy(b[:4], k.Verification[:])
	binary.BigEndian.PutUint32(b[4:8], k.Duration)
	binary.BigEndian.PutUint32(b[8:12], k.Nonce)
	binary.BigEndian.PutUint32(b[12:16], k.Control)
	return b
}

// Unlimited reports whether the key never expires.
func (k *KeyControlBlock) Unlimited() bool {
	return k.Duration == 0
}

// TTL returns the key lifetime, 0 when unlimited.
func (k *KeyControlBlock) TTL() time.Duration {
	return time.Duration(k.Duration) * time.Second
}

func (k *KeyControlBlock) Has(bit uint32) bool {
	return k.Control&bit == bit
}

func (k *KeyControlBlock) AllowDecrypt() bool { return k.Has(ControlAllowDecrypt) }
func (k *KeyControlBlock) AllowEncrypt() bool { return k.Has(ControlAllowEncrypt) }
func (k *KeyControlBlock) AllowSign() bool    { return k.Has(ControlAllowSign) }
func (k *KeyControlBlock) AllowVerify() bool  { return k.Has(ControlAllowVerify) }
func (k *KeyControlBlock) NonceEnabled() bool { return k.Has(ControlNonceEnabled) }

// HDCPVersion returns the minimum HDCP version field.
func (k *KeyControlBlock) HDCPVersion() uint8 {
	return uint8((k.Control >> controlHDCPVersionShift) & controlHDCPVersionMask)
}

func (k *KeyControlBlock) String() string {
	return fmt.Sprintf("%s duration=%d nonce=%08x control=%08x", k.Verification[:], k.Duration, k.Nonce, k.Control)
}
