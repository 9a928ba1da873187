package aax

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"
)

// FastStart rewrites a decrypted container so that moov precedes mdat, shifting the chunk
// offsets of the first stco or co64 directly under moov by the size of moov.
//
// The output holds only ftyp, moov and mdat, in that order; other top-level boxes are dropped.
// Running it twice shifts the offsets twice. If f has a Truncate method it is cut to the new length.
func FastStart(f io.ReadWriteSeeker) error {
	return fastStart(f, "")
}

func fastStart(f io.ReadWriteSeeker, tempDir string) (err error) {
	tmp, err := os.CreateTemp(tempDir, "aax-faststart-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	fileSize, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("get file size: %w", err)
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek to start: %w", err)
	}

	ftyp, err := ReadBox(f)
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: ftyp not found", ErrMissingBox)
	}
	if err != nil {
		return fmt.Errorf("read first box: %w", err)
	}
	if ftyp.Type != TypeFtyp {
		return fmt.Errorf("%w: first box is %s instead of ftyp", ErrMissingBox, ftyp.Type)
	}
	if ftyp.Size > uint64(fileSize) {
		return fmt.Errorf("%w: ftyp declares %d bytes, file has %d", ErrMalformedContainer, ftyp.Size, fileSize)
	}
	if err = ftyp.writeHeader(tmp); err != nil {
		return err
	}
	if err = copyPayload(tmp, f, ftyp); err != nil {
		return err
	}

	moov, err := findBox(f, TypeMoov, int64(ftyp.Size), fileSize)
	if err != nil {
		return err
	}
	payload := make([]byte, moov.PayloadSize())
	if _, err = io.ReadFull(f, payload); err != nil {
		return fmt.Errorf("read moov payload: %w", unexpectedEOF(err))
	}
	if err = shiftChunkOffsets(payload, moov.Size); err != nil {
		return fmt.Errorf("patch chunk offsets: %w", err)
	}
	if err = moov.writeHeader(tmp); err != nil {
		return err
	}
	if _, err = tmp.Write(payload); err != nil {
		return fmt.Errorf("write moov payload: %w", err)
	}

	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek to start: %w", err)
	}
	mdat, err := findBox(f, TypeMdat, 0, fileSize)
	if err != nil {
		return err
	}
	if err = mdat.writeHeader(tmp); err != nil {
		return err
	}
	if err = copyPayload(tmp, f, mdat); err != nil {
		return err
	}

	if _, err = tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp file: %w", err)
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek to start: %w", err)
	}
	n, err := io.Copy(f, tmp)
	if err != nil {
		return fmt.Errorf("write back: %w", err)
	}
	if t, ok := f.(interface{ Truncate(int64) error }); ok && n < fileSize {
		if err = t.Truncate(n); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	return nil
}

// findBox scans top-level boxes from pos, which must be the current position of r, and stops
// with r positioned at the payload of the first box of type t.
func findBox(r io.ReadSeeker, t BoxType, pos, fileSize int64) (*Box, error) {
	for pos < fileSize {
		box, err := ReadBox(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read box at %d: %w", pos, err)
		}
		if box.Size > uint64(fileSize-pos) {
			return nil, fmt.Errorf("%w: %s box at %d declares %d bytes, %d left", ErrMalformedContainer, box.Type, pos, box.Size, fileSize-pos)
		}
		if box.Type == t {
			return box, nil
		}

		if _, err = r.Seek(int64(box.PayloadSize()), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip %s: %w", box.Type, err)
		}
		pos += int64(box.Size)
	}
	return nil, fmt.Errorf("%w: %s not found", ErrMissingBox, t)
}

// shiftChunkOffsets adds delta to every entry of the first stco or co64 among the
// direct children of a moov payload. Nested tables are left alone.
func shiftChunkOffsets(moov []byte, delta uint64) error {
	r := bytes.NewReader(moov)
	for {
		start := len(moov) - r.Len()

		child, err := ReadBox(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		end := uint64(start) + child.Size
		if end > uint64(len(moov)) {
			return fmt.Errorf("%w: %s child at %d overruns moov", ErrMalformedContainer, child.Type, start)
		}

		if child.Type == TypeStco || child.Type == TypeCo64 {
			return patchOffsetTable(moov[start:end], uint64(start), delta)
		}

		if _, err = r.Seek(int64(end), io.SeekStart); err != nil {
			return err
		}
	}
}

// patchOffsetTable shifts the entries of an stco or co64 box in place, keeping its width.
// Bytes after the last entry are left as they are.
func patchOffsetTable(raw []byte, startPos, delta uint64) error {
	hdr, err := ReadBox(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("read offset table header: %w", err)
	}
	if hdr.PayloadSize() < 8 {
		return fmt.Errorf("%w: %s has no entry count", ErrMalformedContainer, hdr.Type)
	}

	width := uint64(4)
	if hdr.Type == TypeCo64 {
		width = 8
	}
	h := hdr.HeaderSize()
	count := uint64(binary.BigEndian.Uint32(raw[h+4 : h+8]))
	end := h + 8 + count*width
	if end > uint64(len(raw)) {
		return fmt.Errorf("%w: %s declares %d entries in %d bytes", ErrMalformedContainer, hdr.Type, count, len(raw))
	}

	// decode a copy sized to the entries
	table := make([]byte, end)
	copy(table, raw[:end])
	if h == extendedBoxHeaderLen {
		binary.BigEndian.PutUint64(table[8:16], end)
	} else {
		binary.BigEndian.PutUint32(table[:4], uint32(end))
	}

	box, err := mp4.DecodeBox(startPos, bytes.NewReader(table))
	if err != nil {
		return fmt.Errorf("decode offset table: %w", err)
	}

	switch t := box.(type) {
	case *mp4.StcoBox:
		for i := range t.ChunkOffset {
			t.ChunkOffset[i] += uint32(delta)
		}
	case *mp4.Co64Box:
		for i := range t.ChunkOffset {
			t.ChunkOffset[i] += delta
		}
	default:
		return fmt.Errorf("box is a %s instead of an offset table", box.Type())
	}

	buf := bytes.NewBuffer(make([]byte, 0, end))
	if err = box.Encode(buf); err != nil {
		return fmt.Errorf("encode %s: %w", box.Type(), err)
	}
	payload := end - h
	if uint64(buf.Len()) < payload {
		return fmt.Errorf("%w: %s encoded to %d bytes", ErrMalformedContainer, box.Type(), buf.Len())
	}
	copy(raw[h:end], buf.Bytes()[uint64(buf.Len())-payload:])

	return nil
}
