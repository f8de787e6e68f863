package referenda

import (
	"errors"
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/stretchr/testify/require"

	"refwatch/internal/chain"
)

func lookupID(n uint64) types.Si1LookupTypeID {
	return types.Si1LookupTypeID{UCompact: types.NewUCompactFromUInt(n)}
}

func field(id uint64) types.Si1Field { return types.Si1Field{Type: lookupID(id)} }

func variantType(path []string, variants ...types.Si1Variant) types.Si1Type {
	p := make(types.Si1Path, len(path))
	for i, s := range path {
		p[i] = types.Text(s)
	}
	return types.Si1Type{Path: p, Def: types.Si1TypeDef{
		IsVariant: true,
		Variant:   types.Si1TypeDefVariant{Variants: variants},
	}}
}

func variant(name string, index uint8, fields ...types.Si1Field) types.Si1Variant {
	return types.Si1Variant{Name: types.Text(name), Index: types.U8(index), Fields: fields}
}

// testRuntime lays out OriginCaller the way a relay chain does, but with the
// Origins pallet at index 30 and a collective origin carrying a u32 and a
// compact u128.
func testRuntime() *types.Metadata {
	reg := []types.PortableTypeV14{
		{ID: lookupID(0), Type: types.Si1Type{Def: types.Si1TypeDef{IsPrimitive: true, Primitive: types.Si1TypeDefPrimitive{Si0TypeDefPrimitive: types.IsU8}}}},
		{ID: lookupID(1), Type: types.Si1Type{
			Path: types.Si1Path{"sp_core", "crypto", "AccountId32"},
			Def:  types.Si1TypeDef{IsArray: true, Array: types.Si1TypeDefArray{Len: 32, Type: lookupID(0)}},
		}},
		{ID: lookupID(2), Type: variantType([]string{"frame_support", "dispatch", "RawOrigin"},
			variant("Root", 0), variant("Signed", 1, field(1)), variant("None", 2))},
		{ID: lookupID(3), Type: variantType([]string{"test_runtime", "governance", "origins", "pallet_custom_origins", "Origin"},
			variant("StakingAdmin", 0), variant("Treasurer", 1), variant("WishForChange", 15))},
		{ID: lookupID(4), Type: types.Si1Type{Def: types.Si1TypeDef{IsPrimitive: true, Primitive: types.Si1TypeDefPrimitive{Si0TypeDefPrimitive: types.IsU32}}}},
		{ID: lookupID(5), Type: types.Si1Type{Def: types.Si1TypeDef{IsCompact: true, Compact: types.Si1TypeDefCompact{Type: lookupID(6)}}}},
		{ID: lookupID(6), Type: types.Si1Type{Def: types.Si1TypeDef{IsPrimitive: true, Primitive: types.Si1TypeDefPrimitive{Si0TypeDefPrimitive: types.IsU128}}}},
		{ID: lookupID(7), Type: variantType([]string{"pallet_collective", "RawOrigin"},
			variant("Members", 0, field(4), field(4)), variant("Member", 1, field(1)))},
		{ID: lookupID(8), Type: types.Si1Type{
			Path: types.Si1Path{"test_runtime", "Deposit"},
			Def: types.Si1TypeDef{IsComposite: true, Composite: types.Si1TypeDefComposite{
				Fields: []types.Si1Field{field(4), field(5)},
			}},
		}},
		{ID: lookupID(9), Type: variantType([]string{"test_runtime", "OriginCaller"},
			variant("system", 0, field(2)),
			variant("Council", 5, field(7)),
			variant("Origins", 30, field(3)),
			variant("Escrow", 40, field(8)),
		)},
	}
	var meta types.Metadata
	meta.Version = 14
	meta.AsMetadataV14.Lookup.Types = reg
	return &meta
}

func TestOriginTableFromMetadata(t *testing.T) {
	t.Parallel()
	tbl, err := OriginTableFromMetadata(testRuntime())
	require.NoError(t, err)

	idx, ok := tbl.CallerIndex("Origins")
	require.True(t, ok)
	require.Equal(t, uint8(30), idx)
	_, ok = tbl.CallerIndex("XcmPallet")
	require.False(t, ok)

	_, err = OriginTableFromMetadata(&types.Metadata{Version: 13})
	require.True(t, errors.Is(err, ErrMetadata))

	bare := testRuntime()
	bare.AsMetadataV14.Lookup.Types = bare.AsMetadataV14.Lookup.Types[:8]
	_, err = OriginTableFromMetadata(bare)
	require.ErrorContains(t, err, "OriginCaller")
}

func TestOriginTableDecode(t *testing.T) {
	t.Parallel()
	tbl, err := OriginTableFromMetadata(testRuntime())
	require.NoError(t, err)

	signed := append([]byte{0, 1}, make([]byte, 32)...)
	escrow := append([]byte{40}, u32le(9)...)
	escrow = append(escrow, append([]byte{(16-4)<<2 | 0b11}, make([]byte, 16)...)...)

	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"root", []byte{0, 0}, "Root"},
		{"signed skips the account", signed, "Signed"},
		{"origins pallet at a runtime-specific index", []byte{30, 15}, "WishForChange"},
		{"other pallet origin", append([]byte{5, 0}, append(u32le(3), u32le(5)...)...), "Council.Members"},
		{"composite origin", escrow, "Escrow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// a trailing marker proves exactly the origin was consumed
			dec := chain.NewDecoder(append(tt.in, 0xee))
			got, err := tbl.decode(dec)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			rest, err := dec.U8()
			require.NoError(t, err)
			require.Equal(t, uint8(0xee), rest)
		})
	}

	_, err = tbl.decode(chain.NewDecoder([]byte{77, 0}))
	require.True(t, errors.Is(err, ErrUnsupportedOrigin))
}

func TestRuntimeDecoderClassifiesMovedOriginsPallet(t *testing.T) {
	t.Parallel()
	tbl, err := OriginTableFromMetadata(testRuntime())
	require.NoError(t, err)
	d := NewRuntimeDecoder(tbl)
	require.Equal(t, uint8(30), d.OriginsPallet)

	v := encodeOngoing(statusFixture{track: 1, origin: []byte{30, 1}, decisionDep: true, deciding: true, confirming: ptr(321)})
	p, ok, err := d.Classify(entry(5, v))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Treasurer", p.Origin)
	require.Equal(t, uint32(321), p.DeadlineBlock)

	// the fixed Polkadot layout cannot read it
	_, _, err = NewDecoder(DefaultOriginsPallet).Classify(entry(5, v))
	require.True(t, errors.Is(err, ErrUnsupportedOrigin))
}
