package aax

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"
)

// compatibleFtyp replaces the vendor ftyp. Encoded it is exactly 32 bytes:
// the tags M4A, 0x00000200, iso2, M4B, mp42 and isom.
func compatibleFtyp() *mp4.FtypBox {
	return mp4.NewFtyp("M4A ", 0x00000200, []string{"iso2", "M4B ", "mp42", "isom"})
}

type progressFunc func(done, total int64)

// DecryptContainer makes one pass over the boxes of r and writes the decrypted container to w.
//
// The ftyp box is replaced with a plain M4A/M4B one, every aavd sample inside mdat is decrypted
// and retagged mp4a, and all other boxes are copied unchanged. ctx is checked between top-level
// boxes only, so cancelling during a large mdat takes effect once that box is done.
func DecryptContainer(ctx context.Context, r io.ReadSeeker, km *KeyMaterial, w io.Writer) error {
	return decryptContainer(ctx, r, km, w, nil)
}

// DecryptBytes is like DecryptContainer but returns the decrypted container in memory.
func DecryptBytes(ctx context.Context, r io.ReadSeeker, km *KeyMaterial) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := DecryptContainer(ctx, r, km, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decryptContainer(ctx context.Context, r io.ReadSeeker, km *KeyMaterial, w io.Writer, progress progressFunc) error {
	if km == nil {
		return errors.New("key material cannot be nil")
	}

	dec, err := newSampleDecrypter(km)
	if err != nil {
		return err
	}

	fileSize, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("get file size: %w", err)
	}
	if _, err = r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek to start: %w", err)
	}

	report := func(pos int64) {
		if progress != nil {
			progress(pos, fileSize)
		}
	}

	var pos int64
	for pos < fileSize {
		if err = ctx.Err(); err != nil {
			return err
		}

		box, err := ReadBox(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read box at %d: %w", pos, err)
		}
		if box.Size > uint64(fileSize-pos) {
			return fmt.Errorf("%w: %s box at %d declares %d bytes, %d left", ErrMalformedContainer, box.Type, pos, box.Size, fileSize-pos)
		}

		switch box.Type {
		case TypeFtyp:
			if err = compatibleFtyp().Encode(w); err != nil {
				return fmt.Errorf("write ftyp: %w", err)
			}
			if _, err = r.Seek(int64(box.PayloadSize()), io.SeekCurrent); err != nil {
				return fmt.Errorf("skip ftyp payload: %w", err)
			}
		case TypeMdat:
			if err = box.writeHeader(w); err != nil {
				return err
			}
			if err = decryptSamples(r, dec, box.PayloadSize(), w, func(done uint64) {
				report(pos + int64(box.HeaderSize()+done))
			}); err != nil {
				return fmt.Errorf("decrypt mdat at %d: %w", pos, err)
			}
		default:
			if err = box.writeHeader(w); err != nil {
				return err
			}
			if err = copyPayload(w, r, box); err != nil {
				return err
			}
		}

		pos += int64(box.Size)
		report(pos)
	}

	return nil
}

// decryptSamples walks the leaf boxes filling exactly size bytes of an mdat payload.
func decryptSamples(r io.Reader, dec *sampleDecrypter, size uint64, w io.Writer, progress func(done uint64)) error {
	var done uint64
	for done < size {
		leaf, err := readLeafBox(r, size-done)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: mdat ends %d bytes early", ErrMalformedContainer, size-done)
			}
			return err
		}

		if leaf.Type == TypeAavd {
			dec.decrypt(leaf.Payload)
			leaf.Type = TypeMp4a
		}
		if err = WriteLeafBox(w, leaf); err != nil {
			return err
		}

		done += leaf.Size()
		progress(done)
	}
	return nil
}

func copyPayload(w io.Writer, r io.Reader, box *Box) error {
	if _, err := io.CopyN(w, r, int64(box.PayloadSize())); err != nil {
		return fmt.Errorf("copy %s payload: %w", box.Type, unexpectedEOF(err))
	}
	return nil
}
