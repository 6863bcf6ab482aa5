package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"tradecore/internal/schema"
)

// Record layout: 32-byte header, payload, CRC32C over header+payload.
const (
	recordFormat       uint16 = 2
	recordHeaderSize          = 32
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'T', 'C', 'R', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("journal segment: invalid magic")
	ErrUnsupportedFormat       = errors.New("journal segment: unsupported format")
	ErrInvalidRecordHeaderSize = errors.New("journal segment: invalid header size")
)

func encodeHeader(dst []byte, header schema.RecordHeader, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordFormat)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(header.Kind))
	binary.LittleEndian.PutUint16(dst[10:12], header.Version)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[16:24], header.Seq)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(header.Time))
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeHeader(src []byte) (schema.RecordHeader, uint32, error) {
	if len(src) < recordHeaderSize {
		return schema.RecordHeader{}, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return schema.RecordHeader{}, 0, ErrInvalidMagic
	}
	if f := binary.LittleEndian.Uint16(src[4:6]); f != recordFormat {
		return schema.RecordHeader{}, 0, ErrUnsupportedFormat
	}
	if size := binary.LittleEndian.Uint16(src[6:8]); size != recordHeaderSize {
		return schema.RecordHeader{}, 0, ErrInvalidRecordHeaderSize
	}
	h := schema.RecordHeader{
		Kind:    schema.RecordKind(binary.LittleEndian.Uint16(src[8:10])),
		Version: binary.LittleEndian.Uint16(src[10:12]),
		Seq:     binary.LittleEndian.Uint64(src[16:24]),
		Time:    int64(binary.LittleEndian.Uint64(src[24:32])),
	}
	return h, binary.LittleEndian.Uint32(src[12:16]), nil
}
