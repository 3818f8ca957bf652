package layout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/spacetimedb-core/page"
)

func TestCompileAlignsScalarFields(t *testing.T) {
	require := require.New(t)
	l := Compile([]ColumnDef{
		{Name: "flag", Tag: TagBool},
		{Name: "id", Tag: TagU32},
		{Name: "amount", Tag: TagU64},
	}, 256)

	off, ok := l.ColumnOffset("flag")
	require.True(ok)
	require.Equal(0, off)

	off, ok = l.ColumnOffset("id")
	require.True(ok)
	require.Equal(4, off) // aligned up to 4 after the 1-byte bool

	off, ok = l.ColumnOffset("amount")
	require.True(ok)
	require.Equal(8, off)

	require.Equal(16, l.FixedSize)
}

func TestEncodeDecodeRoundTripScalarsOnly(t *testing.T) {
	require := require.New(t)
	l := Compile([]ColumnDef{
		{Name: "a", Tag: TagI32},
		{Name: "b", Tag: TagU64},
		{Name: "c", Tag: TagF64},
	}, 256)

	row := Product(I32(-7), U64(42), F64(3.5))
	fixed, varLen := l.Encode(row)
	require.Empty(varLen)

	decoded := l.Decode(fixed, func(ref page.VarLenRef) []byte {
		t.Fatal("unexpected var-len resolution for an all-scalar row")
		return nil
	})
	require.True(row.Equal(decoded))
}

func TestEncodeDecodeRoundTripWithVarLen(t *testing.T) {
	require := require.New(t)
	l := Compile([]ColumnDef{
		{Name: "id", Tag: TagU32},
		{Name: "name", Tag: TagString},
	}, 256)

	row := Product(U32(1), String("hello"))
	fixed, varLen := l.Encode(row)
	require.Len(varLen, 1)
	require.Equal([]byte("hello"), varLen[0])

	resolved := map[int][]byte{0: []byte("hello")}
	n := 0
	decoded := l.Decode(fixed, func(ref page.VarLenRef) []byte {
		b := resolved[n]
		n++
		return b
	})
	require.True(row.Equal(decoded))
}

func TestAlgebraicValueCompareOrdersByTagThenValue(t *testing.T) {
	require := require.New(t)
	require.Equal(-1, Compare(U32(1), U32(2)))
	require.Equal(0, Compare(U32(5), U32(5)))
	require.Equal(1, Compare(U32(5), U32(1)))
	require.True(Compare(Bool(false), U32(0)) < 0) // different tags: bool < u32

	require.Equal(-1, Compare(String("a"), String("b")))
}

func TestAlgebraicValueProductCompareIsLexicographic(t *testing.T) {
	require := require.New(t)
	a := Product(U32(1), String("a"))
	b := Product(U32(1), String("b"))
	c := Product(U32(2), String("a"))
	require.True(Compare(a, b) < 0)
	require.True(Compare(a, c) < 0)
	require.True(Compare(a, a) == 0)
}

func TestRowHashFieldsUsesResolvedBytesForVarLen(t *testing.T) {
	require := require.New(t)
	l := Compile([]ColumnDef{
		{Name: "name", Tag: TagString},
		{Name: "id", Tag: TagU16},
	}, 256)
	row := Product(String("abc"), U16(9))
	fields := l.RowHashFields(row)
	require.Len(fields, 2)
	require.Equal([]byte("abc"), fields[0])
}
