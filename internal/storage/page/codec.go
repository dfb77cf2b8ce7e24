package page

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// ChecksumSize is the size of the BLAKE3 trailer appended to every encoded page.
const ChecksumSize = 32

// Record flags.
const (
	recordFlagDeleted = 1 << iota
)

// Marshal encodes a page. Layout:
//   - Byte 0:        Kind
//   - Bytes 1..n-32: kind-specific body, little-endian
//   - Last 32 bytes: BLAKE3-256 of everything before it
//
// Every reference reachable from the page must be persisted or empty.
func Marshal(p Page) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(p.Kind()))

	var err error
	switch v := p.(type) {
	case *IndirectPage:
		buf, err = appendIndirect(buf, v)
	case *DataPage:
		buf = appendData(buf, v)
	case *RevisionRoot:
		buf, err = appendRevisionRoot(buf, v)
	case *UberPage:
		buf, err = appendUber(buf, v)
	default:
		return nil, ErrInvalidKind
	}
	if err != nil {
		return nil, err
	}

	sum := blake3.Sum256(buf)
	return append(buf, sum[:]...), nil
}

// Unmarshal decodes a page produced by Marshal and verifies its checksum.
func Unmarshal(data []byte) (Page, error) {
	if len(data) < 1+ChecksumSize {
		return nil, ErrCorruptPage
	}
	body := data[:len(data)-ChecksumSize]
	sum := blake3.Sum256(body)
	if string(sum[:]) != string(data[len(data)-ChecksumSize:]) {
		return nil, ErrChecksumMismatch
	}

	d := &decoder{buf: body[1:]}
	var p Page
	switch Kind(body[0]) {
	case KindIndirect:
		p = d.indirect()
	case KindNode, KindName:
		p = d.data(Kind(body[0]))
	case KindRevisionRoot:
		p = d.revisionRoot()
	case KindUber:
		p = d.uber()
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, body[0])
	}
	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptPage, len(d.buf))
	}
	return p, nil
}

func refKey(r *Reference) (int64, error) {
	if r == nil || r.IsEmpty() {
		return NullKey, nil
	}
	if !r.IsPersisted() {
		return 0, ErrUnpersisted
	}
	return r.Key(), nil
}

func appendIndirect(buf []byte, p *IndirectPage) ([]byte, error) {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.refs)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Populated()))
	for i, r := range p.refs {
		if r == nil || r.IsEmpty() {
			continue
		}
		key, err := refKey(r)
		if err != nil {
			return nil, err
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(i))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(key))
	}
	return buf, nil
}

func appendData(buf []byte, p *DataPage) []byte {
	bits := uint8(0)
	for 1<<bits < len(p.records) {
		bits++
	}
	buf = binary.LittleEndian.AppendUint64(buf, p.pageKey)
	buf = binary.LittleEndian.AppendUint64(buf, p.revision)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.previous))
	buf = append(buf, bits)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Populated()))
	p.Each(func(offset int, r *Record) {
		var flags byte
		if r.Deleted {
			flags |= recordFlagDeleted
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(offset))
		buf = append(buf, flags)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Value)))
		buf = append(buf, r.Value...)
	})
	return buf
}

func appendRevisionRoot(buf []byte, r *RevisionRoot) ([]byte, error) {
	nodeKey, err := refKey(r.NodeRoot)
	if err != nil {
		return nil, err
	}
	nameKey, err := refKey(r.NameRoot)
	if err != nil {
		return nil, err
	}
	buf = binary.LittleEndian.AppendUint64(buf, r.Revision)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.MaxNodeKey))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.CommittedAt))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(nodeKey))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(nameKey))
	return buf, nil
}

func appendUber(buf []byte, u *UberPage) ([]byte, error) {
	key, err := refKey(u.Revisions)
	if err != nil {
		return nil, err
	}
	buf = binary.LittleEndian.AppendUint64(buf, u.RevisionCount)
	buf = append(buf, u.Layout.Depth, u.Layout.FanoutBits, u.Layout.RecordBits)
	buf = append(buf, u.Versioning.Kind)
	buf = binary.LittleEndian.AppendUint32(buf, u.Versioning.Milestone)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(key))
	return buf, nil
}

// decoder reads little-endian fields and remembers the first error.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf) < n {
		d.err = ErrCorruptPage
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) ref() *Reference {
	return NewReference(int64(d.u64()))
}

func (d *decoder) indirect() *IndirectPage {
	fanout := d.u32()
	n := d.u32()
	if d.err != nil || fanout == 0 || fanout > 1<<16 || n > fanout {
		d.fail()
		return nil
	}
	p := NewIndirectPage(int(fanout))
	for i := uint32(0); i < n; i++ {
		idx := d.u32()
		key := int64(d.u64())
		if d.err != nil || idx >= fanout {
			d.fail()
			return nil
		}
		p.refs[idx] = NewReference(key)
	}
	return p
}

func (d *decoder) data(kind Kind) *DataPage {
	pageKey := d.u64()
	revision := d.u64()
	previous := int64(d.u64())
	bits := d.u8()
	n := d.u32()
	if d.err != nil || bits > 16 || n > 1<<bits {
		d.fail()
		return nil
	}
	p := NewDataPage(kind, pageKey, bits, revision)
	p.previous = previous
	for i := uint32(0); i < n; i++ {
		offset := d.u32()
		flags := d.u8()
		size := d.u32()
		value := d.take(int(size))
		if d.err != nil || int(offset) >= len(p.records) {
			d.fail()
			return nil
		}
		r := NewRecord(value)
		r.Deleted = flags&recordFlagDeleted != 0
		p.records[offset] = r
	}
	return p
}

func (d *decoder) revisionRoot() *RevisionRoot {
	r := &RevisionRoot{
		Revision:    d.u64(),
		MaxNodeKey:  int64(d.u64()),
		CommittedAt: int64(d.u64()),
		NodeRoot:    d.ref(),
		NameRoot:    d.ref(),
	}
	return r
}

func (d *decoder) uber() *UberPage {
	u := &UberPage{RevisionCount: d.u64()}
	u.Layout.Depth = d.u8()
	u.Layout.FanoutBits = d.u8()
	u.Layout.RecordBits = d.u8()
	u.Versioning.Kind = d.u8()
	u.Versioning.Milestone = d.u32()
	u.Revisions = d.ref()
	return u
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = ErrCorruptPage
	}
}
