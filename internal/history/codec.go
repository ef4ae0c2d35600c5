package history

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Dump layout, big-endian:
//
//	magic "MCHS" | version u8 | count u32 | count x (time | user | message) | crc32 u32
//
// where each string is a u32 byte length followed by UTF-8 bytes, and the
// checksum (IEEE) covers every byte before it.
const (
	dumpMagic     = "MCHS"
	dumpVersion   = uint8(1)
	headerSize    = len(dumpMagic) + 1 + 4
	checksumSize  = 4
	minRecordSize = 3 * 4
)

var (
	ErrBadMagic           = errors.New("history: not a history dump")
	ErrUnsupportedVersion = errors.New("history: unsupported dump version")
	ErrChecksum           = errors.New("history: dump checksum mismatch")
	ErrCorrupt            = errors.New("history: corrupt dump")
)

// Encode serializes entries, newest first, into the dump format.
func Encode(entries []Entry) []byte {
	var buf bytes.Buffer
	buf.WriteString(dumpMagic)
	buf.WriteByte(dumpVersion)
	writeUint32(&buf, uint32(len(entries)))
	for _, e := range entries {
		writeString(&buf, e.Time)
		writeString(&buf, e.User)
		writeString(&buf, e.Message)
	}
	writeUint32(&buf, crc32.ChecksumIEEE(buf.Bytes()))
	return buf.Bytes()
}

// Decode parses a dump produced by Encode.
func Decode(data []byte) ([]Entry, error) {
	if len(data) < len(dumpMagic) || string(data[:len(dumpMagic)]) != dumpMagic {
		return nil, ErrBadMagic
	}
	if len(data) < headerSize+checksumSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}
	if v := data[len(dumpMagic)]; v != dumpVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	body := data[:len(data)-checksumSize]
	want := binary.BigEndian.Uint32(data[len(body):])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, got, want)
	}

	r := &reader{data: body[headerSize:]}
	count := binary.BigEndian.Uint32(body[len(dumpMagic)+1 : headerSize])
	if uint64(count)*minRecordSize > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: %d entries cannot fit in %d bytes", ErrCorrupt, count, len(r.data))
	}

	entries := make([]Entry, 0, count)
	for range count {
		var e Entry
		e.Time = r.string()
		e.User = r.string()
		e.Message = r.string()
		if r.err != nil {
			return nil, r.err
		}
		entries = append(entries, e)
	}
	if len(r.data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.data))
	}
	return entries, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

// reader consumes length-prefixed strings and remembers the first error.
type reader struct {
	data []byte
	err  error
}

func (r *reader) string() string {
	if r.err != nil {
		return ""
	}
	if len(r.data) < 4 {
		r.err = fmt.Errorf("%w: truncated string length", ErrCorrupt)
		return ""
	}
	n := binary.BigEndian.Uint32(r.data)
	r.data = r.data[4:]
	if uint64(n) > uint64(len(r.data)) {
		r.err = fmt.Errorf("%w: string of %d bytes exceeds remaining %d", ErrCorrupt, n, len(r.data))
		return ""
	}
	s := string(r.data[:n])
	r.data = r.data[n:]
	return s
}
