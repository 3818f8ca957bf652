// Package commitlog implements the append-only, checksummed commit log: a
// directory of segment files, each holding a sequence of length-framed
// commit records, read and written through a small ordered index of
// segment start offsets.
package commitlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// HeaderSize is the fixed size of a segment's leading header, padded with
// zero bytes after the meaningful fields.
const HeaderSize = 64

var segmentMagic = [8]byte{'S', 'T', 'D', 'B', 'C', 'L', 'O', 'G'}

// ChecksumAlgo identifies the checksum used for commit-record framing.
// CRC32C is the only algorithm current versions write; a reader rejects
// any other value it finds in a segment header.
type ChecksumAlgo uint8

const ChecksumCRC32C ChecksumAlgo = 0

// FormatVersion gates the on-disk commit-record layout. Version 0 omits
// epoch; version 1 (the default for new segments) includes it. Readers
// accept both.
type FormatVersion uint8

const (
	FormatV0 FormatVersion = 0
	FormatV1 FormatVersion = 1

	CurrentFormatVersion = FormatV1
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// SegmentHeader is the fixed 64-byte prefix of every segment file.
type SegmentHeader struct {
	Version FormatVersion
	Algo    ChecksumAlgo
}

// EncodeSegmentHeader serializes h into exactly HeaderSize bytes.
func EncodeSegmentHeader(h SegmentHeader) [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[:8], segmentMagic[:])
	buf[8] = byte(h.Version)
	buf[9] = byte(h.Algo)
	return buf
}

// DecodeSegmentHeader parses a segment's leading HeaderSize bytes.
func DecodeSegmentHeader(b []byte) (SegmentHeader, error) {
	if len(b) < HeaderSize {
		return SegmentHeader{}, fmt.Errorf("commitlog: short segment header (%d bytes)", len(b))
	}
	var magic [8]byte
	copy(magic[:], b[:8])
	if magic != segmentMagic {
		return SegmentHeader{}, fmt.Errorf("commitlog: bad segment magic %x", magic)
	}
	algo := ChecksumAlgo(b[9])
	if algo != ChecksumCRC32C {
		return SegmentHeader{}, fmt.Errorf("commitlog: unknown checksum algorithm %d", algo)
	}
	return SegmentHeader{Version: FormatVersion(b[8]), Algo: algo}, nil
}

// Commit is one in-memory commit record: a contiguous run of [MinTxOffset,
// MinTxOffset+NumTx) transactions sharing one opaque records payload.
type Commit struct {
	MinTxOffset uint64
	Epoch       uint64
	NumTx       uint16
	Records     []byte
}

// ErrChecksumMismatch is returned by Decode when a commit's trailing
// CRC32C does not match its header+payload bytes.
var ErrChecksumMismatch = fmt.Errorf("commitlog: checksum mismatch")

// ErrZeroSentinel is returned by Decode when it reads an all-zero region
// where a commit header was expected, signalling end-of-segment.
var ErrZeroSentinel = fmt.Errorf("commitlog: end of segment")

// Encode serializes c per version into a standalone byte buffer: header
// fields, records, then a trailing little-endian CRC32C over everything
// preceding it.
func Encode(version FormatVersion, c Commit) []byte {
	var buf []byte
	switch version {
	case FormatV0:
		buf = make([]byte, 0, 8+2+4+len(c.Records)+4)
		buf = appendU64(buf, c.MinTxOffset)
		buf = appendU16(buf, c.NumTx)
		buf = appendU32(buf, uint32(len(c.Records)))
	case FormatV1:
		buf = make([]byte, 0, 8+8+2+4+len(c.Records)+4)
		buf = appendU64(buf, c.MinTxOffset)
		buf = appendU64(buf, c.Epoch)
		buf = appendU16(buf, c.NumTx)
		buf = appendU32(buf, uint32(len(c.Records)))
	default:
		panic(fmt.Sprintf("commitlog: unknown format version %d", version))
	}
	buf = append(buf, c.Records...)
	crc := crc32.Checksum(buf, crc32cTable)
	return appendU32(buf, crc)
}

// Decode reads one commit record from the front of b per version, and
// returns the commit plus the number of bytes consumed. If the leading
// bytes of b (enough to hold a header) are all zero, it returns
// ErrZeroSentinel. If the trailing CRC32C does not match, it returns
// ErrChecksumMismatch — the caller should treat everything from the start
// of this record onward as invalid and truncate there.
func Decode(version FormatVersion, b []byte) (Commit, int, error) {
	headerLen := 8 + 2 + 4
	if version == FormatV1 {
		headerLen = 8 + 8 + 2 + 4
	}
	if len(b) < headerLen {
		return Commit{}, 0, ErrZeroSentinel
	}
	if allZero(b[:headerLen]) {
		return Commit{}, 0, ErrZeroSentinel
	}

	var c Commit
	off := 0
	c.MinTxOffset = binary.LittleEndian.Uint64(b[off:])
	off += 8
	if version == FormatV1 {
		c.Epoch = binary.LittleEndian.Uint64(b[off:])
		off += 8
	}
	c.NumTx = binary.LittleEndian.Uint16(b[off:])
	off += 2
	recLen := binary.LittleEndian.Uint32(b[off:])
	off += 4

	total := off + int(recLen) + 4
	if len(b) < total {
		return Commit{}, 0, ErrZeroSentinel
	}
	c.Records = append([]byte(nil), b[off:off+int(recLen)]...)

	wantCRC := binary.LittleEndian.Uint32(b[off+int(recLen):])
	gotCRC := crc32.Checksum(b[:off+int(recLen)], crc32cTable)
	if wantCRC != gotCRC {
		return Commit{}, 0, ErrChecksumMismatch
	}
	return c, total, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func appendU16(b []byte, v uint16) []byte {
	var w [2]byte
	binary.LittleEndian.PutUint16(w[:], v)
	return append(b, w[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], v)
	return append(b, w[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var w [8]byte
	binary.LittleEndian.PutUint64(w[:], v)
	return append(b, w[:]...)
}
