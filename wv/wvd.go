package wv

import (
	"crypto/x509"
	"fmt"
	"io"

	"golang.org/x/crypto/cryptobyte"
	"google.golang.org/protobuf/proto"
)

const (
	wvdMagic   = "WVD"
	wvdVersion = 2
)

// FromWVD loads a device from a .wvd export.
//
// Layout: "WVD", version (1 or 2), device type, security level (1 to 3), a
// flags byte, then a big-endian uint16 length prefixed DER private key and a
// uint16 length prefixed client identification. Trailing data of version 1
// files is ignored.
func FromWVD(r io.Reader) DeviceSource {
	return func(d *Device) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read wvd: %w", err)
		}
		return d.unmarshalWVD(data)
	}
}

func (d *Device) unmarshalWVD(data []byte) error {
	s := cryptobyte.String(data)

	var magic []byte
	if !s.ReadBytes(&magic, len(wvdMagic)) || string(magic) != wvdMagic {
		return fmt.Errorf("%w: invalid magic constant, not a WVD file", ErrFormat)
	}

	var version, typ, level, flags uint8
	if !s.ReadUint8(&version) || !s.ReadUint8(&typ) || !s.ReadUint8(&level) || !s.ReadUint8(&flags) {
		return fmt.Errorf("%w: truncated WVD header", ErrFormat)
	}
	if version != 1 && version != 2 {
		return fmt.Errorf("%w: unsupported WVD version %d", ErrFormat, version)
	}
	if level < 1 || level > 3 {
		return fmt.Errorf("%w: invalid security level %d", ErrFormat, level)
	}

	var privateKey, clientID cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&privateKey) {
		return fmt.Errorf("%w: truncated WVD private key", ErrFormat)
	}
	if !s.ReadUint16LengthPrefixed(&clientID) {
		return fmt.Errorf("%w: truncated WVD client id", ErrFormat)
	}
	if version == wvdVersion && !s.Empty() {
		return fmt.Errorf("%w: %d trailing bytes in WVD file", ErrFormat, len(s))
	}

	c, err := unmarshalClientID(clientID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}

	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}

	d.typ = DeviceType(typ)
	d.securityLevel = level
	d.clientID = c
	d.privateKey = key
	return nil
}

// MarshalWVD encodes the device as a version 2 .wvd export.
func (d *Device) MarshalWVD() ([]byte, error) {
	clientID, err := proto.Marshal(d.clientID)
	if err != nil {
		return nil, fmt.Errorf("marshal client id: %w", err)
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddBytes([]byte(wvdMagic))
	b.AddUint8(wvdVersion)
	b.AddUint8(uint8(d.typ))
	b.AddUint8(d.securityLevel)
	b.AddUint8(0)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(x509.MarshalPKCS1PrivateKey(d.privateKey))
	})
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(clientID)
	})

	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("build wvd: %w", err)
	}
	return out, nil
}
