package protocol

import (
	"encoding/binary"

	"github.com/NebulousLabs/errors"
)

// ErrShortBuffer is returned by Decoder reads that run past the end of the
// payload.
var ErrShortBuffer = errors.New("protocol: short buffer")

// Encoder accumulates a packet payload in the wire's big-endian, length
// prefixed-vector layout. When constructed for the LizardFS dialect it
// writes a leading version:u32 automatically.
type Encoder struct {
	buf     []byte
	dialect Dialect
}

// NewEncoder starts a payload for the given dialect and (LizardFS-only)
// payload version.
func NewEncoder(dialect Dialect, version uint32) *Encoder {
	e := &Encoder{dialect: dialect}
	if dialect == LizardFS {
		e.PutU32(version)
	}
	return e
}

func (e *Encoder) PutU8(v uint8)   { e.buf = append(e.buf, v) }
func (e *Encoder) PutU16(v uint16) { e.buf = append(e.buf, 0, 0); binary.BigEndian.PutUint16(e.buf[len(e.buf)-2:], v) }
func (e *Encoder) PutU32(v uint32) {
	e.buf = append(e.buf, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(e.buf[len(e.buf)-4:], v)
}
func (e *Encoder) PutU64(v uint64) {
	e.buf = append(e.buf, 0, 0, 0, 0, 0, 0, 0, 0)
	binary.BigEndian.PutUint64(e.buf[len(e.buf)-8:], v)
}

// PutBytes appends raw bytes with no length prefix (used for the final,
// already-sized data block of READ_DATA/WRITE_DATA payloads).
func (e *Encoder) PutBytes(b []byte) { e.buf = append(e.buf, b...) }

// PutVector writes a u32 length prefix followed by the elements, via put
// for each element.
func PutVector[T any](e *Encoder, items []T, put func(*Encoder, T)) {
	e.PutU32(uint32(len(items)))
	for _, it := range items {
		put(e, it)
	}
}

// Bytes returns the accumulated payload.
func (e *Encoder) Bytes() []byte { return e.buf }

// Decoder reads fields out of a packet payload in wire order. When
// constructed for the LizardFS dialect it consumes the leading version:u32
// automatically and exposes it via Version.
type Decoder struct {
	buf     []byte
	off     int
	dialect Dialect
	version uint32
}

// NewDecoder wraps payload for reading under the given dialect.
func NewDecoder(dialect Dialect, payload []byte) (*Decoder, error) {
	d := &Decoder{buf: payload, dialect: dialect}
	if dialect == LizardFS {
		v, err := d.GetU32()
		if err != nil {
			return nil, err
		}
		d.version = v
	}
	return d, nil
}

// Version is the payload version read from a LizardFS-dialect packet; zero
// for Legacy.
func (d *Decoder) Version() uint32 { return d.version }

func (d *Decoder) need(n int) error {
	if d.off+n > len(d.buf) {
		return ErrShortBuffer
	}
	return nil
}

func (d *Decoder) GetU8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.off]
	d.off++
	return v, nil
}

func (d *Decoder) GetU16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

func (d *Decoder) GetU32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *Decoder) GetU64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

// GetBytes reads n raw bytes (no length prefix) — used for the trailing
// data block once size has been read from an earlier field.
func (d *Decoder) GetBytes(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	v := d.buf[d.off : d.off+n]
	d.off += n
	return v, nil
}

// Remaining returns the number of unread payload bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

// GetVector reads a u32 length prefix followed by that many elements via get.
func GetVector[T any](d *Decoder, get func(*Decoder) (T, error)) ([]T, error) {
	n, err := d.GetU32()
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		it, err := get(d)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}
