package referenda

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"sort"

	"refwatch/internal/chain"
	logx "refwatch/pkg/logx"
)

// ErrUnsupportedOrigin is returned for proposal origins outside system and Origins.
var ErrUnsupportedOrigin = errors.New("referenda: unsupported origin")

const (
	variantOngoing = 0

	systemPallet = 0

	prefixLen    = 32
	blake2Len    = 16
	accountIDLen = 32
	balanceLen   = 16
	hashLen      = 32
)

// Decoder carries the runtime layout needed to decode ReferendumInfo values.
// Origins, when set, decodes origins from runtime metadata; otherwise only
// system origins and the Origins pallet at OriginsPallet are understood.
type Decoder struct {
	OriginsPallet uint8
	Origins       *OriginTable
}

func NewDecoder(originsPallet uint8) Decoder {
	return Decoder{OriginsPallet: originsPallet}
}

// NewRuntimeDecoder decodes origins with the runtime's own type registry.
func NewRuntimeDecoder(origins *OriginTable) Decoder {
	d := Decoder{OriginsPallet: DefaultOriginsPallet, Origins: origins}
	if idx, ok := origins.CallerIndex("Origins"); ok {
		d.OriginsPallet = idx
	}
	return d
}

// IDFromKey recovers the referendum index from a Blake2_128Concat map key.
func IDFromKey(key []byte) (uint32, error) {
	if len(key) != prefixLen+blake2Len+4 {
		return 0, fmt.Errorf("referenda: unexpected key length %d", len(key))
	}
	return binary.LittleEndian.Uint32(key[len(key)-4:]), nil
}

// EncodeID is the SCALE encoding of a referendum index, used as map key.
func EncodeID(id uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, id)
	return b
}

// Decode parses a ReferendumInfo value. ok is false for every variant other
// than Ongoing (approved, rejected, cancelled, timed out, killed).
func (d Decoder) Decode(id uint32, value []byte) (Referendum, bool, error) {
	dec := chain.NewDecoder(value)
	variant, err := dec.U8()
	if err != nil {
		return Referendum{}, false, err
	}
	if variant != variantOngoing {
		return Referendum{}, false, nil
	}

	r := Referendum{ID: id}
	if r.Track, err = dec.U16(); err != nil {
		return r, false, err
	}
	if r.Origin, err = d.decodeOrigin(dec); err != nil {
		return r, false, err
	}
	if err = skipBoundedCall(dec); err != nil {
		return r, false, err
	}
	// DispatchTime: At(u32) | After(u32)
	if err = dec.Skip(1 + 4); err != nil {
		return r, false, err
	}
	if r.Submitted, err = dec.U32(); err != nil {
		return r, false, err
	}
	// submission_deposit
	if err = dec.Skip(accountIDLen + balanceLen); err != nil {
		return r, false, err
	}
	// decision_deposit
	some, err := dec.Option()
	if err != nil {
		return r, false, err
	}
	if some {
		if err = dec.Skip(accountIDLen + balanceLen); err != nil {
			return r, false, err
		}
	}
	if some, err = dec.Option(); err != nil {
		return r, false, err
	}
	if some {
		r.Deciding = &Deciding{}
		if r.Deciding.Since, err = dec.U32(); err != nil {
			return r, false, err
		}
		confirming, err := dec.Option()
		if err != nil {
			return r, false, err
		}
		if confirming {
			at, err := dec.U32()
			if err != nil {
				return r, false, err
			}
			r.Deciding.Confirming = &at
		}
	}
	return r, true, nil
}

func (d Decoder) decodeOrigin(dec *chain.Decoder) (string, error) {
	if d.Origins != nil {
		return d.Origins.decode(dec)
	}
	pallet, err := dec.U8()
	if err != nil {
		return "", err
	}
	variant, err := dec.U8()
	if err != nil {
		return "", err
	}
	switch pallet {
	case systemPallet:
		switch variant {
		case 0:
			return "Root", nil
		case 1:
			return "Signed", dec.Skip(accountIDLen)
		case 2:
			return "None", nil
		case 3:
			return "Authorized", nil
		}
		return "", fmt.Errorf("%w: system variant %d", ErrUnsupportedOrigin, variant)
	case d.OriginsPallet:
		return originName(variant), nil
	}
	return "", fmt.Errorf("%w: pallet %d", ErrUnsupportedOrigin, pallet)
}

// skipBoundedCall skips Bounded<Call>: Legacy{hash} | Inline(bytes) | Lookup{hash, len}.
func skipBoundedCall(dec *chain.Decoder) error {
	kind, err := dec.U8()
	if err != nil {
		return err
	}
	switch kind {
	case 0:
		return dec.Skip(hashLen)
	case 1:
		_, err := dec.Bytes()
		return err
	case 2:
		return dec.Skip(hashLen + 4)
	}
	return fmt.Errorf("referenda: unknown bounded call kind %d", kind)
}

// Classify turns one raw ReferendumInfoFor entry into a confirming proposal.
// ok is false when the referendum is not ongoing or not confirming.
func (d Decoder) Classify(e chain.StorageEntry) (ConfirmingProposal, bool, error) {
	id, err := IDFromKey(e.Key)
	if err != nil {
		return ConfirmingProposal{}, false, err
	}
	r, ongoing, err := d.Decode(id, e.Value)
	if err != nil {
		return ConfirmingProposal{}, false, fmt.Errorf("referendum %d: %w", id, err)
	}
	if !ongoing {
		return ConfirmingProposal{}, false, nil
	}
	p, ok := r.Confirming()
	return p, ok, nil
}

// MapReader streams a storage map.
type MapReader interface {
	StorageMap(ctx context.Context, module, item string) iter.Seq2[chain.StorageEntry, error]
}

// Confirming returns every confirming referendum, sorted by id. Entries that
// fail to decode are logged at error level and skipped, since a missed
// referendum is never announced; a read error aborts.
func (d Decoder) Confirming(ctx context.Context, r MapReader, log logx.Logger) ([]ConfirmingProposal, error) {
	var out []ConfirmingProposal
	for e, err := range r.StorageMap(ctx, Pallet, StorageItem) {
		if err != nil {
			return nil, fmt.Errorf("read %s.%s: %w", Pallet, StorageItem, err)
		}
		p, ok, err := d.Classify(e)
		if err != nil {
			log.Error("skipping undecodable referendum", logx.Err(err))
			continue
		}
		if ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
