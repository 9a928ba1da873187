package aax

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Fixed regions of the ADRM key envelope in AAX files.
const (
	adrmOffset     = 0x251
	adrmLength     = 56
	checksumOffset = 0x28d
	checksumLength = 20
)

// fixedKey is shared by every AAX file.
var fixedKey = [16]byte{
	0x77, 0x21, 0x4d, 0x4b, 0x19, 0x6a, 0x87, 0xcd,
	0x52, 0x00, 0x45, 0xfd, 0x20, 0xa5, 0x1d, 0x67,
}

// DeriveKey recovers the file key and IV of an AAX file from its ADRM envelope and
// the hex activation bytes. The position of r is restored before returning.
//
// The envelope echoes the secret in lowercase hex and is compared exactly, so an uppercase
// secret fails the echo check. FileType.KeySource normalizes raw activation bytes.
// A wrong secret or a damaged envelope yields an error matching ErrCredentialMismatch.
func DeriveKey(r io.ReadSeeker, secret string) (_ *KeyMaterial, err error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("get stream position: %w", err)
	}
	defer func() {
		if _, serr := r.Seek(start, io.SeekStart); serr != nil && err == nil {
			err = fmt.Errorf("restore stream position: %w", serr)
		}
	}()

	secretBytes, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSecret, err)
	}

	imKey := sha1Sum(fixedKey[:], secretBytes)
	imIV := sha1Sum(fixedKey[:], imKey, secretBytes)
	workKey, workIV := imKey[:16], imIV[:16]

	adrm := make([]byte, adrmLength)
	if err = readAt(r, adrmOffset, adrm); err != nil {
		return nil, fmt.Errorf("read adrm envelope: %w", err)
	}
	envelope, err := decryptCBC(workKey, workIV, pad16(adrm))
	if err != nil {
		return nil, fmt.Errorf("decrypt adrm envelope: %w", err)
	}

	checksum := make([]byte, checksumLength)
	if err = readAt(r, checksumOffset, checksum); err != nil {
		return nil, fmt.Errorf("read checksum: %w", err)
	}
	if !bytes.Equal(sha1Sum(workKey, workIV), checksum) {
		return nil, &CredentialError{Cause: CauseChecksum}
	}

	if swapHexEndian(hex.EncodeToString(envelope[:4])) != secret {
		return nil, &CredentialError{Cause: CauseEcho}
	}

	fileKey := envelope[8:24]
	fileDRM := envelope[26:42]
	fileIV := sha1Sum(fileDRM, fileKey, fixedKey[:])[:16]

	return NewKeyMaterial(fileKey, fileIV)
}

func readAt(r io.ReadSeeker, offset int64, p []byte) error {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, p); err != nil {
		return unexpectedEOF(err)
	}
	return nil
}

// swapHexEndian reverses the order of the byte pairs of a hex string.
func swapHexEndian(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := len(s); i > 0; i -= 2 {
		if i == 1 {
			b.WriteString(s[:1])
			break
		}
		b.WriteString(s[i-2 : i])
	}
	return b.String()
}
