package referenda

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"refwatch/internal/chain"
)

// ErrMetadata is returned when runtime metadata lacks what origin decoding needs.
var ErrMetadata = errors.New("referenda: unusable runtime metadata")

// maxTypeDepth bounds recursion through the type registry.
const maxTypeDepth = 32

// Variants of OriginCaller whose inner variant name stands alone.
var bareCallers = map[string]bool{"system": true, "Origins": true}

// OriginTable decodes a proposal origin with the runtime's own OriginCaller
// type, so pallet indexes and origin layouts follow whatever runtime the node
// runs. Names are the inner variant ("Root", "SmallSpender"), or
// "Caller.Variant" for origins outside system and Origins
// ("FellowshipOrigins.Fellows").
type OriginTable struct {
	registry map[int64]types.Si1Type
	caller   types.Si1Type
}

// OriginTableFromMetadata finds OriginCaller in a v14 metadata type registry.
func OriginTableFromMetadata(meta *types.Metadata) (*OriginTable, error) {
	if meta == nil || meta.Version != 14 {
		var v uint8
		if meta != nil {
			v = meta.Version
		}
		return nil, fmt.Errorf("%w: need v14, got v%d", ErrMetadata, v)
	}
	t := &OriginTable{registry: make(map[int64]types.Si1Type, len(meta.AsMetadataV14.Lookup.Types))}
	found := false
	for _, pt := range meta.AsMetadataV14.Lookup.Types {
		t.registry[typeID(pt.ID)] = pt.Type
		path := pt.Type.Path
		if len(path) > 0 && string(path[len(path)-1]) == "OriginCaller" && pt.Type.Def.IsVariant {
			t.caller, found = pt.Type, true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no OriginCaller type", ErrMetadata)
	}
	return t, nil
}

// CallerIndex reports the OriginCaller index of the named pallet origin.
func (t *OriginTable) CallerIndex(name string) (uint8, bool) {
	for _, v := range t.caller.Def.Variant.Variants {
		if string(v.Name) == name {
			return uint8(v.Index), true
		}
	}
	return 0, false
}

func typeID(id types.Si1LookupTypeID) int64 {
	n := big.Int(id.UCompact)
	return n.Int64()
}

func (t *OriginTable) decode(dec *chain.Decoder) (string, error) {
	outer, err := t.variant(dec, t.caller)
	if err != nil {
		return "", err
	}
	if len(outer.Fields) == 1 {
		if inner, ok := t.registry[typeID(outer.Fields[0].Type)]; ok && inner.Def.IsVariant {
			v, err := t.variant(dec, inner)
			if err != nil {
				return "", err
			}
			if err := t.skipFields(dec, v.Fields, 1); err != nil {
				return "", err
			}
			if bareCallers[string(outer.Name)] {
				return string(v.Name), nil
			}
			return string(outer.Name) + "." + string(v.Name), nil
		}
	}
	if err := t.skipFields(dec, outer.Fields, 1); err != nil {
		return "", err
	}
	return string(outer.Name), nil
}

func (t *OriginTable) variant(dec *chain.Decoder, ty types.Si1Type) (types.Si1Variant, error) {
	idx, err := dec.U8()
	if err != nil {
		return types.Si1Variant{}, err
	}
	for _, v := range ty.Def.Variant.Variants {
		if uint8(v.Index) == idx {
			return v, nil
		}
	}
	return types.Si1Variant{}, fmt.Errorf("%w: %s has no variant %d", ErrUnsupportedOrigin, typeName(ty), idx)
}

func (t *OriginTable) skipFields(dec *chain.Decoder, fields []types.Si1Field, depth int) error {
	for _, f := range fields {
		if err := t.skip(dec, typeID(f.Type), depth); err != nil {
			return err
		}
	}
	return nil
}

// skip consumes one value of registry type id.
func (t *OriginTable) skip(dec *chain.Decoder, id int64, depth int) error {
	if depth > maxTypeDepth {
		return fmt.Errorf("%w: type %d nests too deep", ErrMetadata, id)
	}
	ty, ok := t.registry[id]
	if !ok {
		return fmt.Errorf("%w: type %d not in registry", ErrMetadata, id)
	}
	def := ty.Def
	switch {
	case def.IsComposite:
		return t.skipFields(dec, def.Composite.Fields, depth+1)
	case def.IsVariant:
		v, err := t.variant(dec, ty)
		if err != nil {
			return err
		}
		return t.skipFields(dec, v.Fields, depth+1)
	case def.IsSequence:
		n, err := dec.Compact()
		if err != nil {
			return err
		}
		for range n {
			if err := t.skip(dec, typeID(def.Sequence.Type), depth+1); err != nil {
				return err
			}
		}
		return nil
	case def.IsArray:
		for range uint32(def.Array.Len) {
			if err := t.skip(dec, typeID(def.Array.Type), depth+1); err != nil {
				return err
			}
		}
		return nil
	case def.IsTuple:
		for _, e := range def.Tuple {
			if err := t.skip(dec, typeID(e), depth+1); err != nil {
				return err
			}
		}
		return nil
	case def.IsPrimitive:
		return skipPrimitive(dec, def.Primitive.Si0TypeDefPrimitive)
	case def.IsCompact:
		return dec.SkipCompact()
	case def.IsBitSequence:
		bits, err := dec.Compact()
		if err != nil {
			return err
		}
		return dec.Skip(int((bits + 7) / 8))
	}
	return fmt.Errorf("%w: cannot skip %s", ErrMetadata, typeName(ty))
}

func skipPrimitive(dec *chain.Decoder, p types.Si0TypeDefPrimitive) error {
	switch p {
	case types.IsBool, types.IsU8, types.IsI8:
		return dec.Skip(1)
	case types.IsU16, types.IsI16:
		return dec.Skip(2)
	case types.IsChar, types.IsU32, types.IsI32:
		return dec.Skip(4)
	case types.IsU64, types.IsI64:
		return dec.Skip(8)
	case types.IsU128, types.IsI128:
		return dec.Skip(16)
	case types.IsU256, types.IsI256:
		return dec.Skip(32)
	case types.IsStr:
		_, err := dec.Bytes()
		return err
	}
	return fmt.Errorf("%w: unknown primitive %d", ErrMetadata, p)
}

func typeName(ty types.Si1Type) string {
	if len(ty.Path) == 0 {
		return "type"
	}
	return string(ty.Path[len(ty.Path)-1])
}
