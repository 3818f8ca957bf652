package txn

import (
	"encoding/binary"
	"fmt"

	"github.com/clockworklabs/spacetimedb-core/table"
)

// EncodePayload serializes d into the on-disk Txdata record payload stored
// in a commit log record: an optional reducer context, then inserts,
// deletes, and truncates grouped by table. rowdata within each TableOps is
// itself a sequence of length-prefixed rows, already produced by
// EncodeValue.
func EncodePayload(d TxData) []byte {
	var buf []byte

	if d.ReducerContext == nil {
		buf = append(buf, 0)
	} else {
		rc := d.ReducerContext
		buf = append(buf, 1)
		buf = appendU32(buf, rc.ReducerId)
		buf = appendLenPrefixed(buf, []byte(rc.Name))
		buf = appendLenPrefixed(buf, rc.Args)
		idBytes, _ := rc.CallerIdentity.MarshalBinary()
		buf = append(buf, idBytes...)
		buf = appendU64(buf, uint64(rc.TimestampUnixNanos))
	}

	buf = appendTableOpsList(buf, d.Inserts)
	buf = appendTableOpsList(buf, d.Deletes)

	buf = appendU32(buf, uint32(len(d.Truncates)))
	for _, id := range d.Truncates {
		buf = appendU32(buf, uint32(id))
	}
	return buf
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(b []byte) (TxData, error) {
	var d TxData
	off := 0
	if off >= len(b) {
		return d, fmt.Errorf("txn: truncated payload")
	}
	hasCtx := b[off]
	off++
	if hasCtx == 1 {
		rc := &ReducerContext{}
		rc.ReducerId = binary.LittleEndian.Uint32(b[off:])
		off += 4
		name, n := readLenPrefixed(b[off:])
		rc.Name = string(name)
		off += n
		args, n := readLenPrefixed(b[off:])
		rc.Args = args
		off += n
		if err := rc.CallerIdentity.UnmarshalBinary(b[off : off+16]); err != nil {
			return d, fmt.Errorf("txn: decode caller identity: %w", err)
		}
		off += 16
		rc.TimestampUnixNanos = int64(binary.LittleEndian.Uint64(b[off:]))
		off += 8
		d.ReducerContext = rc
	}

	var n int
	d.Inserts, n = readTableOpsList(b[off:])
	off += n
	d.Deletes, n = readTableOpsList(b[off:])
	off += n

	numTruncates := binary.LittleEndian.Uint32(b[off:])
	off += 4
	d.Truncates = make([]table.Id, numTruncates)
	for i := range d.Truncates {
		d.Truncates[i] = table.Id(binary.LittleEndian.Uint32(b[off:]))
		off += 4
	}
	return d, nil
}

func appendTableOpsList(buf []byte, ops []TableOps) []byte {
	buf = appendU32(buf, uint32(len(ops)))
	for _, op := range ops {
		buf = appendU32(buf, uint32(op.TableId))
		buf = appendU32(buf, uint32(len(op.Rows)))
		for _, row := range op.Rows {
			buf = appendLenPrefixed(buf, row)
		}
	}
	return buf
}

func readTableOpsList(b []byte) ([]TableOps, int) {
	off := 0
	count := binary.LittleEndian.Uint32(b[off:])
	off += 4
	ops := make([]TableOps, count)
	for i := range ops {
		ops[i].TableId = table.Id(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		numRows := binary.LittleEndian.Uint32(b[off:])
		off += 4
		ops[i].Rows = make([][]byte, numRows)
		for r := range ops[i].Rows {
			row, n := readLenPrefixed(b[off:])
			ops[i].Rows[r] = row
			off += n
		}
	}
	return ops, off
}

func appendLenPrefixed(buf, data []byte) []byte {
	buf = appendU32(buf, uint32(len(data)))
	return append(buf, data...)
}

func readLenPrefixed(b []byte) ([]byte, int) {
	n := binary.LittleEndian.Uint32(b)
	return append([]byte(nil), b[4:4+n]...), 4 + int(n)
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
