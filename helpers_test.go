package aax

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func u32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func u64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// makeBox builds a box with a 32-bit size header.
func makeBox(typ string, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)
	b := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint32(b, uint32(8+len(body)))
	copy(b[4:], typ)
	return append(b, body...)
}

func makeStco(offsets ...uint32) []byte {
	payload := [][]byte{u32(0), u32(uint32(len(offsets)))}
	for _, o := range offsets {
		payload = append(payload, u32(o))
	}
	return makeBox("stco", payload...)
}

func makeCo64(offsets ...uint64) []byte {
	payload := [][]byte{u32(0), u32(uint32(len(offsets)))}
	for _, o := range offsets {
		payload = append(payload, u64(o))
	}
	return makeBox("co64", payload...)
}

func encryptCBC(t require.TestingT, key, iv, plaintext []byte) []byte {
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
	return ciphertext
}

// writeTemp writes data to a new file under t.TempDir and returns it opened for read and write.
func writeTemp(t *testing.T, data []byte) *os.File {
	t.Helper()

	f, err := os.Create(filepath.Join(t.TempDir(), "book.m4b"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	_, err = f.Write(data)
	require.NoError(t, err)
	return f
}

func readAll(t *testing.T, f *os.File) []byte {
	t.Helper()

	b, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return b
}

// putADRM writes an envelope unlocked by secret into file, which must be long enough to hold
// the checksum. The envelope carries key and drm at their fixed offsets.
func putADRM(t require.TestingT, file []byte, secret string, key, drm []byte) {
	secretBytes, err := hex.DecodeString(secret)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(file), checksumOffset+checksumLength)

	imKey := sha1Sum(fixedKey[:], secretBytes)
	imIV := sha1Sum(fixedKey[:], imKey, secretBytes)

	envelope := make([]byte, 48)
	for i := 0; i < 4; i++ {
		envelope[i] = secretBytes[len(secretBytes)-1-i]
	}
	copy(envelope[8:24], key)
	copy(envelope[26:42], drm)

	copy(file[adrmOffset:], encryptCBC(t, imKey[:16], imIV[:16], envelope))
	copy(file[checksumOffset:], sha1Sum(imKey[:16], imIV[:16]))
}

func fileIV(key, drm []byte) []byte {
	return sha1Sum(drm, key, fixedKey[:])[:16]
}

var expectedFtyp = decodeHexString("00000020" + "66747970" + "4d344120" + "00000200" + "69736f32" + "4d344220" + "6d703432" + "69736f6d")

func decodeHexString(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
