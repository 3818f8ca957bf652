package commitlog

import (
	"path/filepath"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	require := require.New(t)

	for _, version := range []FormatVersion{FormatV0, FormatV1} {
		c := Commit{MinTxOffset: 42, Epoch: 7, NumTx: 3, Records: []byte("hello commit")}
		buf := Encode(version, c)
		got, n, err := Decode(version, buf)
		require.NoError(err)
		require.Equal(len(buf), n)
		diff := "want:\n" + spew.Sdump(c) + "got:\n" + spew.Sdump(got)
		require.Equal(c.MinTxOffset, got.MinTxOffset, diff)
		require.Equal(c.NumTx, got.NumTx, diff)
		require.Equal(c.Records, got.Records, diff)
		if version == FormatV1 {
			require.Equal(c.Epoch, got.Epoch, diff)
		}
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	require := require.New(t)

	c := Commit{MinTxOffset: 1, NumTx: 1, Records: []byte("payload")}
	buf := Encode(FormatV1, c)
	buf[len(buf)-1] ^= 0xFF // flip every bit of the trailing CRC32C's last byte

	_, _, err := Decode(FormatV1, buf)
	require.ErrorIs(err, ErrChecksumMismatch)
}

func TestDecodeZeroSentinel(t *testing.T) {
	require := require.New(t)

	zero := make([]byte, HeaderSize)
	_, _, err := Decode(FormatV1, zero)
	require.ErrorIs(err, ErrZeroSentinel)
}

func TestSegmentHeaderRoundTrip(t *testing.T) {
	require := require.New(t)

	h := SegmentHeader{Version: FormatV1, Algo: ChecksumCRC32C}
	buf := EncodeSegmentHeader(h)
	require.Len(buf, HeaderSize)
	got, err := DecodeSegmentHeader(buf[:])
	require.NoError(err)
	require.Equal(h, got)
}

func TestLogAppendAndResume(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	log, err := Open(dir)
	require.NoError(err)

	off, err := log.Append(Commit{NumTx: 1, Records: []byte("first")})
	require.NoError(err)
	require.Equal(uint64(0), off)

	off, err = log.Append(Commit{NumTx: 2, Records: []byte("second")})
	require.NoError(err)
	require.Equal(uint64(1), off)

	_, err = log.Sync()
	require.NoError(err)
	require.NoError(log.Close())

	reopened, err := Open(dir)
	require.NoError(err)
	require.Equal(uint64(3), reopened.NextTxOffset())

	var seen []Commit
	require.NoError(reopened.Iter(0, func(c Commit) bool {
		seen = append(seen, c)
		return true
	}))
	require.Len(seen, 2)
	require.Equal([]byte("first"), seen[0].Records)
	require.Equal([]byte("second"), seen[1].Records)
}

func TestLogRotation(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	log, err := Open(dir)
	require.NoError(err)
	log.maxSize = HeaderSize + 1 // force rotation before every append after the first

	for i := 0; i < 3; i++ {
		_, err := log.Append(Commit{NumTx: 1, Records: []byte("x")})
		require.NoError(err)
	}
	require.NoError(log.Close())

	entries, err := filepathGlob(dir)
	require.NoError(err)
	require.GreaterOrEqual(len(entries), 2)
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*"+segmentSuffix))
}
