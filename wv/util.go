package wv

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/chmike/cmac-go"
)

func Pointer[T any](v T) *T {
	return &v
}

func Pkcs7Padding(data []byte, blockSize int) []byte {
	padding := blockSize - (len(data) % blockSize)
	padText := bytes.Repeat([]byte{byte(padding)}, padding)
	out := make([]byte, 0, len(data)+padding)
	out = append(out, data...)
	return append(out, padText...)
}

func Pkcs7Unpadding(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: padded data length %d", ErrFormat, len(data))
	}
	paddingLength := int(data[len(data)-1])
	if paddingLength < 1 || paddingLength > blockSize {
		return nil, fmt.Errorf("%w: invalid padding length: %d", ErrFormat, paddingLength)
	}
	for _, b := range data[len(data)-paddingLength:] {
		if int(b) != paddingLength {
			return nil, fmt.Errorf("%w: invalid padding byte", ErrFormat)
		}
	}

	return data[:len(data)-paddingLength], nil
}

func cmacAES(data, key []byte) ([]byte, error) {
	hash, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("new cmac: %w", err)
	}

	if _, err = hash.Write(data); err != nil {
		return nil, fmt.Errorf("write cmac: %w", err)
	}

	return hash.Sum(nil), nil
}

// EncryptAES encrypts plaintext with AES-CBC and PKCS#7 padding.
func EncryptAES(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv length %d", ErrFormat, len(iv))
	}

	padded := Pkcs7Padding(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return ciphertext, nil
}

// DecryptAES decrypts AES-CBC ciphertext and strips its PKCS#7 padding.
func DecryptAES(key, iv, ciphertext []byte) ([]byte, error) {
	plaintext, err := decryptAESRaw(key, iv, ciphertext)
	if err != nil {
		return nil, err
	}

	return Pkcs7Unpadding(plaintext, aes.BlockSize)
}

// decryptAESRaw decrypts whole AES-CBC blocks without touching padding.
func decryptAESRaw(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv length %d", ErrFormat, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrFormat, len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return plaintext, nil
}

func readRandom(r io.Reader, length int) ([]byte, error) {
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}
