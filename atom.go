package aax

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	boxHeaderLen         = 8
	extendedBoxHeaderLen = 16
)

// BoxType is a 4-byte box type code.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

var (
	TypeFtyp = BoxType{'f', 't', 'y', 'p'}
	TypeMoov = BoxType{'m', 'o', 'o', 'v'}
	TypeMdat = BoxType{'m', 'd', 'a', 't'}
	TypeStco = BoxType{'s', 't', 'c', 'o'}
	TypeCo64 = BoxType{'c', 'o', '6', '4'}
	// TypeAavd tags an encrypted audio sample inside mdat.
	TypeAavd = BoxType{'a', 'a', 'v', 'd'}
	// TypeMp4a replaces TypeAavd once the sample is decrypted.
	TypeMp4a = BoxType{'m', 'p', '4', 'a'}
)

// Box is a top-level box header. Size includes the header.
type Box struct {
	Size uint64
	Type BoxType

	// header as read, so it can be copied verbatim
	raw    [extendedBoxHeaderLen]byte
	rawLen int
}

// HeaderSize returns the length of the header as read, or as WriteBox would emit it.
func (b *Box) HeaderSize() uint64 {
	if b.rawLen > 0 {
		return uint64(b.rawLen)
	}
	if b.Size > math.MaxUint32 {
		return extendedBoxHeaderLen
	}
	return boxHeaderLen
}

// PayloadSize returns Size minus the header length.
func (b *Box) PayloadSize() uint64 {
	return b.Size - b.HeaderSize()
}

// ReadBox reads a box header. It returns io.EOF if the stream ends cleanly before the header.
func ReadBox(r io.Reader) (*Box, error) {
	b := &Box{}

	if _, err := io.ReadFull(r, b.raw[:4]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read box size: %w", err)
	}
	if _, err := io.ReadFull(r, b.raw[4:8]); err != nil {
		return nil, fmt.Errorf("read box type: %w", unexpectedEOF(err))
	}
	b.rawLen = boxHeaderLen
	copy(b.Type[:], b.raw[4:8])

	b.Size = uint64(binary.BigEndian.Uint32(b.raw[:4]))
	if b.Size == 1 {
		if _, err := io.ReadFull(r, b.raw[8:16]); err != nil {
			return nil, fmt.Errorf("read extended size of %s: %w", b.Type, unexpectedEOF(err))
		}
		b.rawLen = extendedBoxHeaderLen
		b.Size = binary.BigEndian.Uint64(b.raw[8:16])
	}

	if b.Size < uint64(b.rawLen) {
		return nil, fmt.Errorf("%w: %s box size %d is smaller than its header", ErrMalformedContainer, b.Type, b.Size)
	}

	return b, nil
}

// WriteBox writes the header of b, using the extended form only when Size does not fit in 32 bits.
func WriteBox(w io.Writer, b *Box) error {
	var buf [extendedBoxHeaderLen]byte

	n := boxHeaderLen
	if b.Size > math.MaxUint32 {
		binary.BigEndian.PutUint32(buf[:4], 1)
		copy(buf[4:8], b.Type[:])
		binary.BigEndian.PutUint64(buf[8:16], b.Size)
		n = extendedBoxHeaderLen
	} else {
		binary.BigEndian.PutUint32(buf[:4], uint32(b.Size))
		copy(buf[4:8], b.Type[:])
	}

	if _, err := w.Write(buf[:n]); err != nil {
		return fmt.Errorf("write %s header: %w", b.Type, err)
	}
	return nil
}

// writeHeader re-emits the header bytes exactly as they were read.
func (b *Box) writeHeader(w io.Writer) error {
	if b.rawLen == 0 {
		return WriteBox(w, b)
	}

	if _, err := w.Write(b.raw[:b.rawLen]); err != nil {
		return fmt.Errorf("write %s header: %w", b.Type, err)
	}
	return nil
}

// LeafBox is a box nested in mdat. Its size is always a 32-bit field.
type LeafBox struct {
	Type    BoxType
	Payload []byte
}

// Size returns the total length including the 8-byte header.
func (l *LeafBox) Size() uint64 {
	return boxHeaderLen + uint64(len(l.Payload))
}

// ReadLeafBox reads a leaf box with its whole payload.
// It returns io.EOF if the stream ends cleanly before the header.
func ReadLeafBox(r io.Reader) (*LeafBox, error) {
	return readLeafBox(r, math.MaxUint32)
}

// readLeafBox fails with ErrMalformedContainer if the leaf is larger than max.
func readLeafBox(r io.Reader, max uint64) (*LeafBox, error) {
	var hdr [boxHeaderLen]byte

	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read leaf size: %w", err)
	}
	if _, err := io.ReadFull(r, hdr[4:]); err != nil {
		return nil, fmt.Errorf("read leaf type: %w", unexpectedEOF(err))
	}

	l := &LeafBox{}
	copy(l.Type[:], hdr[4:])

	size := uint64(binary.BigEndian.Uint32(hdr[:4]))
	if size < boxHeaderLen {
		return nil, fmt.Errorf("%w: %s leaf size %d is smaller than its header", ErrMalformedContainer, l.Type, size)
	}
	if size > max {
		return nil, fmt.Errorf("%w: %s leaf size %d overruns its parent (%d bytes left)", ErrMalformedContainer, l.Type, size, max)
	}

	l.Payload = make([]byte, size-boxHeaderLen)
	if _, err := io.ReadFull(r, l.Payload); err != nil {
		return nil, fmt.Errorf("read %s leaf payload: %w", l.Type, unexpectedEOF(err))
	}

	return l, nil
}

// WriteLeafBox writes the 8-byte header and payload of l.
func WriteLeafBox(w io.Writer, l *LeafBox) error {
	size := l.Size()
	if size > math.MaxUint32 {
		return fmt.Errorf("%w: %s leaf size %d does not fit in 32 bits", ErrMalformedContainer, l.Type, size)
	}

	var hdr [boxHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(size))
	copy(hdr[4:], l.Type[:])

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write %s leaf header: %w", l.Type, err)
	}
	if _, err := w.Write(l.Payload); err != nil {
		return fmt.Errorf("write %s leaf payload: %w", l.Type, err)
	}
	return nil
}

// unexpectedEOF turns io.EOF in the middle of a structure into io.ErrUnexpectedEOF.
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
