// Package aax removes the DRM of AAX and AAXC audiobooks and rewrites them as plain M4B containers.
package aax

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// Progress reports how far a decryption pass has got.
type Progress struct {
	// Done is the number of input bytes consumed.
	Done int64
	// Total is the size of the input.
	Total int64
}

// Decrypter decrypts files whose keys come from one KeySource.
type Decrypter struct {
	keys      KeySource
	fastStart bool
	tempDir   string
	progress  func(Progress)
}

type Option func(*Decrypter)

// WithFastStart moves moov ahead of mdat after DecryptFile decrypts.
func WithFastStart(enabled bool) Option {
	return func(d *Decrypter) {
		d.fastStart = enabled
	}
}

// WithTempDir sets the directory of the scratch file used by fast start.
// The default is os.TempDir.
func WithTempDir(dir string) Option {
	return func(d *Decrypter) {
		d.tempDir = dir
	}
}

// WithProgress sets a callback invoked as the input is consumed.
func WithProgress(fn func(Progress)) Option {
	return func(d *Decrypter) {
		d.progress = fn
	}
}

// NewDecrypter creates a new Decrypter.
//
// Get keys by calling FromSecret, FromKeyIV, FromVoucher or FileType.KeySource.
func NewDecrypter(keys KeySource, opts ...Option) *Decrypter {
	if keys == nil {
		panic("keys cannot be nil")
	}

	d := &Decrypter{keys: keys}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// KeyMaterial resolves the key material for r without decrypting anything.
func (d *Decrypter) KeyMaterial(r io.ReadSeeker) (*KeyMaterial, error) {
	km, err := d.keys(r)
	if err != nil {
		return nil, fmt.Errorf("get key material: %w", err)
	}
	return km, nil
}

// Decrypt writes the decrypted container of r to w.
func (d *Decrypter) Decrypt(ctx context.Context, r io.ReadSeeker, w io.Writer) error {
	km, err := d.KeyMaterial(r)
	if err != nil {
		return err
	}

	var progress progressFunc
	if d.progress != nil {
		progress = func(done, total int64) {
			d.progress(Progress{Done: done, Total: total})
		}
	}

	return decryptContainer(ctx, r, km, w, progress)
}

// DecryptToBuffer returns the decrypted container of r in memory.
func (d *Decrypter) DecryptToBuffer(ctx context.Context, r io.ReadSeeker) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := d.Decrypt(ctx, r, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecryptFile writes the decrypted container of r to f, then moves moov to the front
// if fast start is enabled. f should be empty.
func (d *Decrypter) DecryptFile(ctx context.Context, r io.ReadSeeker, f io.ReadWriteSeeker) error {
	if err := d.Decrypt(ctx, r, f); err != nil {
		return err
	}
	if !d.fastStart {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fastStart(f, d.tempDir); err != nil {
		return fmt.Errorf("fast start: %w", err)
	}
	return nil
}
