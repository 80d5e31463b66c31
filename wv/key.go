package wv

import (
	"encoding/hex"
	"fmt"

	wvpb "github.com/iyear/gowidevine/widevinepb"
)

type KeyType int64

const (
	SIGNING          KeyType = 1 // Exactly one key of this type must appear.
	CONTENT          KeyType = 2 // Content key.
	KEY_CONTROL      KeyType = 3 // Key control block for license renewals. No key.
	OPERATOR_SESSION KeyType = 4 // wrapped keys for auxiliary crypto operations.
	ENTITLEMENT      KeyType = 5 // Entitlement keys.
	OEM_CONTENT      KeyType = 6
)

type Key struct {
	// Type is the type of key.
	Type wvpb.License_KeyContainer_KeyType
	// IV is the initialization vector of the key.
	IV []byte
	// ID is the ID of the key.
	ID []byte
	// Key is the decrypted key.
	Key []byte
	// Control is the key control block attached to the key, if any.
	Control *KeyControlBlock
}

func (k *Key) KeyIdHex() string {
	return hex.EncodeToString(k.ID)
}

func (k *Key) KeyHex() string {
	return hex.EncodeToString(k.Key)
}

func (k *Key) String() string {
	return fmt.Sprintf("[%s] %s:%s", k.Type, k.KeyIdHex(), k.KeyHex())
}

// keyFromContainer decrypts a key container with the derived encryption key.
// An attached key control block is decrypted with the content key itself.
func keyFromContainer(container *wvpb.License_KeyContainer, encKey []byte) (*Key, error) {
	key := &Key{
		Type: container.GetType(),
		IV:   container.GetIv(),
		ID:   container.GetId(),
	}

	if len(container.GetKey()) > 0 {
		decrypted, err := DecryptAES(encKey, container.GetIv(), container.GetKey())
		if err != nil {
			return nil, fmt.Errorf("decrypt key %x: %w", container.GetId(), err)
		}
		key.Key = decrypted
	}

	if kc := container.GetKeyControl(); kc != nil && len(kc.GetKeyControlBlock()) > 0 {
		if len(key.Key) == 0 {
			return nil, fmt.Errorf("%w: key control block without a key", ErrFormat)
		}
		if len(kc.GetKeyControlBlock()) != KeyControlBlockSize {
			return nil, fmt.Errorf("%w: encrypted key control block is %d bytes", ErrFormat, len(kc.GetKeyControlBlock()))
		}
		plain, err := decryptAESRaw(key.Key, kc.GetIv(), kc.GetKeyControlBlock())
		if err != nil {
			return nil, fmt.Errorf("decrypt key control block: %w", err)
		}
		if key.Control, err = ParseKeyControlBlock(plain); err != nil {
			return nil, err
		}
	}

	return key, nil
}
