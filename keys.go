package aax

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const keyLength = 16

// KeyMaterial is the AES-128-CBC key and IV that decrypts the audio samples of one file.
type KeyMaterial struct {
	Key [keyLength]byte
	IV  [keyLength]byte
}

// NewKeyMaterial copies key and iv, both of which must be 16 bytes.
func NewKeyMaterial(key, iv []byte) (*KeyMaterial, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("invalid key length: %d", len(key))
	}
	if len(iv) != keyLength {
		return nil, fmt.Errorf("invalid iv length: %d", len(iv))
	}

	km := &KeyMaterial{}
	copy(km.Key[:], key)
	copy(km.IV[:], iv)
	return km, nil
}

func (k *KeyMaterial) String() string {
	return fmt.Sprintf("key=%s iv=%s", hex.EncodeToString(k.Key[:]), hex.EncodeToString(k.IV[:]))
}

// KeySource resolves the key material for the file read from r.
type KeySource func(r io.ReadSeeker) (*KeyMaterial, error)

// FromSecret derives the key material from the file's ADRM envelope and the hex activation bytes.
//
// Only AAX files carry the envelope.
func FromSecret(secret string) KeySource {
	return func(r io.ReadSeeker) (*KeyMaterial, error) {
		return DeriveKey(r, secret)
	}
}

// FromKeyIV uses an explicit key and iv, as shipped alongside AAXC files.
func FromKeyIV(key, iv []byte) KeySource {
	return func(io.ReadSeeker) (*KeyMaterial, error) {
		if key == nil {
			return nil, errors.New("key cannot be nil")
		}
		if iv == nil {
			return nil, errors.New("iv cannot be nil")
		}
		return NewKeyMaterial(key, iv)
	}
}

// FromVoucher reads key material stored with KeyMaterial.MarshalBinary.
func FromVoucher(v io.Reader) KeySource {
	return func(io.ReadSeeker) (*KeyMaterial, error) {
		return readVoucher(v)
	}
}

// KeyData is key material as handed over by a download service.
// For AAX KeyPart1 holds the raw activation bytes; for AAXC it holds the key and KeyPart2 the IV.
type KeyData struct {
	KeyPart1 []byte
	KeyPart2 []byte
}

// KeySource picks the key source matching the file type.
func (t FileType) KeySource(k KeyData) KeySource {
	switch t {
	case FileTypeAAX:
		if len(k.KeyPart1) == 0 {
			return failedSource(errors.New("activation bytes cannot be empty for AAX"))
		}
		return FromSecret(hex.EncodeToString(k.KeyPart1))
	case FileTypeAAXC:
		if k.KeyPart2 == nil {
			return failedSource(errors.New("iv cannot be nil for AAXC"))
		}
		return FromKeyIV(k.KeyPart1, k.KeyPart2)
	default:
		return failedSource(fmt.Errorf("%w: %s", ErrUnsupportedFormat, t))
	}
}

func failedSource(err error) KeySource {
	return func(io.ReadSeeker) (*KeyMaterial, error) {
		return nil, err
	}
}
