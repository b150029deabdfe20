package packer

import (
	"encoding/binary"
	"errors"
)

// DefaultLimit bounds a single packed buffer.
const DefaultLimit = 1 << 20

var ErrCapacity = errors.New("packer capacity exhausted")

// Packer serializes fields in call order into one contiguous buffer. The
// format is positional; integers are big-endian and strings carry a 32-bit
// length prefix. The first capacity error sticks and later writes are ignored.
type Packer struct {
	buf   []byte
	limit int
	err   error
}

func New() *Packer {
	return NewWithLimit(DefaultLimit)
}

func NewWithLimit(limit int) *Packer {
	return &Packer{
		buf:   make([]byte, 0, 256),
		limit: limit,
	}
}

func (p *Packer) grow(n int) bool {
	if p.err != nil {
		return false
	}
	if len(p.buf)+n > p.limit {
		p.err = ErrCapacity
		return false
	}
	return true
}

func (p *Packer) Pack32(v uint32) {
	if p.grow(4) {
		p.buf = binary.BigEndian.AppendUint32(p.buf, v)
	}
}

func (p *Packer) Pack16(v uint16) {
	if p.grow(2) {
		p.buf = binary.BigEndian.AppendUint16(p.buf, v)
	}
}

func (p *Packer) Pack8(v uint8) {
	if p.grow(1) {
		p.buf = append(p.buf, v)
	}
}

// PackBytes writes a fixed-size block without a length prefix.
func (p *Packer) PackBytes(b []byte) {
	if p.grow(len(b)) {
		p.buf = append(p.buf, b...)
	}
}

func (p *Packer) PackStringA(s string) {
	if p.grow(4 + len(s)) {
		p.buf = binary.BigEndian.AppendUint32(p.buf, uint32(len(s)))
		p.buf = append(p.buf, s...)
	}
}

func (p *Packer) Bytes() []byte { return p.buf }
func (p *Packer) Len() int      { return len(p.buf) }
func (p *Packer) Err() error    { return p.err }
