package chain

import (
	"encoding/binary"
	"fmt"
)

// Decoder reads SCALE-encoded primitives from a byte slice.
type Decoder struct {
	b   []byte
	off int
}

func NewDecoder(b []byte) *Decoder { return &Decoder{b: b} }

// Remaining reports the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.b) - d.off }

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortInput, n, d.off, d.Remaining())
	}
	p := d.b[d.off : d.off+n]
	d.off += n
	return p, nil
}

func (d *Decoder) Skip(n int) error {
	_, err := d.take(n)
	return err
}

func (d *Decoder) U8() (uint8, error) {
	p, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (d *Decoder) U16() (uint16, error) {
	p, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (d *Decoder) U32() (uint32, error) {
	p, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (d *Decoder) U64() (uint64, error) {
	p, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (d *Decoder) Bool() (bool, error) {
	v, err := d.U8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("scale: invalid bool byte %#x", v)
	}
}

// Option reads an Option<T> discriminant; the caller decodes T when it returns true.
func (d *Decoder) Option() (bool, error) {
	return d.Bool()
}

// Compact reads a compact-encoded unsigned integer that fits in 64 bits.
func (d *Decoder) Compact() (uint64, error) {
	b0, err := d.U8()
	if err != nil {
		return 0, err
	}
	switch b0 & 0b11 {
	case 0b00:
		return uint64(b0 >> 2), nil
	case 0b01:
		b1, err := d.U8()
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16([]byte{b0, b1}) >> 2), nil
	case 0b10:
		rest, err := d.take(3)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32([]byte{b0, rest[0], rest[1], rest[2]}) >> 2), nil
	default:
		n := int(b0>>2) + 4
		if n > 8 {
			return 0, fmt.Errorf("scale: compact integer of %d bytes overflows uint64", n)
		}
		p, err := d.take(n)
		if err != nil {
			return 0, err
		}
		var buf [8]byte
		copy(buf[:], p)
		return binary.LittleEndian.Uint64(buf[:]), nil
	}
}

// SkipCompact skips a compact integer of any width, including the big-integer
// mode used for u128 balances.
func (d *Decoder) SkipCompact() error {
	b0, err := d.U8()
	if err != nil {
		return err
	}
	switch b0 & 0b11 {
	case 0b00:
		return nil
	case 0b01:
		return d.Skip(1)
	case 0b10:
		return d.Skip(3)
	}
	return d.Skip(int(b0>>2) + 4)
}

// Bytes reads a compact length prefix followed by that many bytes.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Compact()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.Remaining()) {
		return nil, fmt.Errorf("%w: vector of %d bytes, have %d", ErrShortInput, n, d.Remaining())
	}
	return d.take(int(n))
}
