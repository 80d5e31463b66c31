package wv

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"
	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

const (
	psshHeaderSize = 8
	psshIDSize     = 16
)

// PSSH represents a protection system specific header box.
type PSSH struct {
	version  byte
	flags    uint32
	systemID []byte
	keyIDs   [][]byte
	data     []byte
}

// NewPSSH parses a PSSH box from bytes.
//
// The box size and the payload size fields are not trusted: the payload is
// everything that follows the payload size field.
func NewPSSH(b []byte) (*PSSH, error) {
	if len(b) < psshHeaderSize {
		return nil, fmt.Errorf("%w: pssh box too short: %d bytes", ErrFormat, len(b))
	}
	if string(b[4:8]) != "pssh" {
		return nil, fmt.Errorf("%w: box is a %q instead of a pssh", ErrFormat, b[4:8])
	}

	r := bytes.NewReader(b[psshHeaderSize:])

	var versionAndFlags uint32
	if err := binary.Read(r, binary.BigEndian, &versionAndFlags); err != nil {
		return nil, fmt.Errorf("%w: read version and flags: %v", ErrFormat, err)
	}
	version := byte(versionAndFlags >> 24)
	if version > 1 {
		return nil, fmt.Errorf("%w: unknown pssh version %d", ErrFormat, version)
	}

	systemID := make([]byte, psshIDSize)
	if _, err := io.ReadFull(r, systemID); err != nil {
		return nil, fmt.Errorf("%w: read system id: %v", ErrFormat, err)
	}

	p := &PSSH{
		version:  version,
		flags:    versionAndFlags & 0xf,
		systemID: systemID,
	}

	if version == 1 {
		var count uint32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return nil, fmt.Errorf("%w: read key id count: %v", ErrFormat, err)
		}
		if uint64(count)*psshIDSize > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: %d key ids do not fit in the box", ErrFormat, count)
		}
		p.keyIDs = make([][]byte, count)
		for i := range p.keyIDs {
			kid := make([]byte, psshIDSize)
			if _, err := io.ReadFull(r, kid); err != nil {
				return nil, fmt.Errorf("%w: read key id: %v", ErrFormat, err)
			}
			p.keyIDs[i] = kid
		}
	}

	var dataLen uint32
	if err := binary.Read(r, binary.BigEndian, &dataLen); err != nil {
		return nil, fmt.Errorf("%w: read data length: %v", ErrFormat, err)
	}

	p.data = make([]byte, r.Len())
	_, _ = r.Read(p.data)

	return p, nil
}

// NewPSSHBox builds a PSSH from its fields. Key ids require version 1.
func NewPSSHBox(version byte, flags uint32, systemID []byte, keyIDs [][]byte, initData []byte) (*PSSH, error) {
	if version > 1 {
		return nil, fmt.Errorf("%w: unknown pssh version %d", ErrFormat, version)
	}
	if flags > 0xf {
		return nil, fmt.Errorf("%w: pssh flags %#x out of range", ErrFormat, flags)
	}
	if len(systemID) != psshIDSize {
		return nil, fmt.Errorf("%w: system id must be %d bytes", ErrFormat, psshIDSize)
	}
	if version == 0 && len(keyIDs) > 0 {
		return nil, fmt.Errorf("%w: key ids need a version 1 box", ErrFormat)
	}
	for _, kid := range keyIDs {
		if len(kid) != psshIDSize {
			return nil, fmt.Errorf("%w: key id must be %d bytes", ErrFormat, psshIDSize)
		}
	}

	p := &PSSH{
		version:  version,
		flags:    flags,
		systemID: bytes.Clone(systemID),
		data:     bytes.Clone(initData),
	}
	if version == 1 {
		p.keyIDs = make([][]byte, 0, len(keyIDs))
		for _, kid := range keyIDs {
			p.keyIDs = append(p.keyIDs, bytes.Clone(kid))
		}
	}

	return p, nil
}

// Version returns the version of the PSSH box.
func (p *PSSH) Version() byte {
	return p.version
}

// Flags returns the flags of the PSSH box.
func (p *PSSH) Flags() uint32 {
	return p.flags
}

// SystemID returns the protection system id.
func (p *PSSH) SystemID() []byte {
	return p.systemID
}

// KeyIDs returns the key ids of a version 1 box in box order.
func (p *PSSH) KeyIDs() [][]byte {
	return p.keyIDs
}

// RawData returns the init data of the PSSH box.
func (p *PSSH) RawData() []byte {
	return p.data
}

// Bytes encodes the PSSH as an ISO-BMFF box.
func (p *PSSH) Bytes() ([]byte, error) {
	box := &mp4.PsshBox{
		Version:  p.version,
		Flags:    p.flags,
		SystemID: mp4.UUID(p.systemID),
		Data:     p.data,
	}
	for _, kid := range p.keyIDs {
		box.KIDs = append(box.KIDs, mp4.UUID(kid))
	}

	buf := bytes.NewBuffer(make([]byte, 0, box.Size()))
	if err := box.Encode(buf); err != nil {
		return nil, fmt.Errorf("encode pssh box: %w", err)
	}
	return buf.Bytes(), nil
}

// IsWidevine reports whether the box targets Widevine.
func (p *PSSH) IsWidevine() bool {
	return bytes.Equal(p.systemID, WidevineSystemID)
}

// IsPlayReady reports whether the box targets PlayReady.
func (p *PSSH) IsPlayReady() bool {
	return bytes.Equal(p.systemID, PlayReadySystemID)
}

// Widevine returns the parsed Widevine init data, or nil for other systems.
func (p *PSSH) Widevine() (*wvpb.WidevinePsshData, error) {
	if !p.IsWidevine() {
		return nil, nil
	}

	data := &wvpb.WidevinePsshData{}
	if err := proto.Unmarshal(p.data, data); err != nil {
		return nil, fmt.Errorf("%w: unmarshal pssh data: %v", ErrFormat, err)
	}
	return data, nil
}

// Decoded returns the scheme specific payload: a *wvpb.WidevinePsshData for
// Widevine, a []PlayReadyRecord for PlayReady and nil for any other system.
func (p *PSSH) Decoded() (any, error) {
	switch {
	case p.IsWidevine():
		data, err := p.Widevine()
		if err != nil {
			return nil, err
		}
		return data, nil
	case p.IsPlayReady():
		records, err := p.PlayReady()
		if err != nil || records == nil {
			return nil, err
		}
		return records, nil
	default:
		return nil, nil
	}
}

func (p *PSSH) String() string {
	return fmt.Sprintf("pssh v%d system=%s kids=%d data=%d", p.version, hex.EncodeToString(p.systemID), len(p.keyIDs), len(p.data))
}
