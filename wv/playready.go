package wv

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// PlayReadyRecordRightsManagementHeader is the record type carrying a WRM header.
const PlayReadyRecordRightsManagementHeader = 1

// PlayReadyRecord is one record of a PlayReady object.
type PlayReadyRecord struct {
	Type  uint16
	Value string
}

// PlayReady parses the init data as a PlayReady object and returns its WRM
// header records. It returns nil when the box targets another system or the
// object length does not match the init data.
func (p *PSSH) PlayReady() ([]PlayReadyRecord, error) {
	if !p.IsPlayReady() {
		return nil, nil
	}
	return parsePlayReadyObject(p.data)
}

func parsePlayReadyObject(data []byte) ([]PlayReadyRecord, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("%w: playready object too short: %d bytes", ErrFormat, len(data))
	}
	if binary.LittleEndian.Uint32(data[:4]) != uint32(len(data)) {
		return nil, nil
	}

	count := binary.LittleEndian.Uint16(data[4:6])
	rest := data[6:]
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

	records := make([]PlayReadyRecord, 0, count)
	for i := 0; i < int(count); i++ {
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: playready record %d truncated", ErrFormat, i)
		}
		typ := binary.LittleEndian.Uint16(rest[:2])
		length := int(binary.LittleEndian.Uint16(rest[2:4]))
		rest = rest[4:]
		if len(rest) < length {
			return nil, fmt.Errorf("%w: playready record %d value truncated", ErrFormat, i)
		}
		value := rest[:length]
		rest = rest[length:]

		if typ != PlayReadyRecordRightsManagementHeader {
			continue
		}
		text, err := decoder.NewDecoder().Bytes(value)
		if err != nil {
			return nil, fmt.Errorf("%w: decode playready header: %v", ErrFormat, err)
		}
		records = append(records, PlayReadyRecord{Type: typ, Value: string(text)})
	}

	return records, nil
}
