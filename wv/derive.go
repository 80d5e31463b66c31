package wv

import (
	"encoding/binary"
	"fmt"
)

// Contexts are the CMAC inputs bound to one serialized license request.
type Contexts struct {
	Encryption     []byte
	Authentication []byte
}

// DerivedKeys are the session keys of one license exchange.
type DerivedKeys struct {
	Enc       []byte
	MacServer []byte
	MacClient []byte
}

// DeriveContexts builds the encryption and authentication contexts of a
// serialized license request: label, request, big-endian key size in bits.
func DeriveContexts(licenseRequest []byte) Contexts {
	return Contexts{
		Encryption:     labelledContext(encryptionLabel, licenseRequest, encryptionKeySize),
		Authentication: labelledContext(authenticationLabel, licenseRequest, authenticationKeySize),
	}
}

func labelledContext(label, msg []byte, bits uint32) []byte {
	ctx := make([]byte, 0, len(label)+len(msg)+4)
	ctx = append(ctx, label...)
	ctx = append(ctx, msg...)
	return binary.BigEndian.AppendUint32(ctx, bits)
}

// DeriveKeys derives the content encryption key and both MAC keys from a
// decrypted session key. Every block is AES-CMAC(sessionKey, counter || context).
func DeriveKeys(ctx Contexts, sessionKey []byte) (*DerivedKeys, error) {
	derive := func(context []byte, counter byte) ([]byte, error) {
		data := make([]byte, 0, 1+len(context))
		data = append(data, counter)
		data = append(data, context...)
		return cmacAES(data, sessionKey)
	}

	enc, err := derive(ctx.Encryption, 1)
	if err != nil {
		return nil, fmt.Errorf("derive enc key: %w", err)
	}

	var mac [4][]byte
	for i := range mac {
		if mac[i], err = derive(ctx.Authentication, byte(i+1)); err != nil {
			return nil, fmt.Errorf("derive mac key %d: %w", i+1, err)
		}
	}

	return &DerivedKeys{
		Enc:       enc,
		MacServer: append(mac[0], mac[1]...),
		MacClient: append(mac[2], mac[3]...),
	}, nil
}
