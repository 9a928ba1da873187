package aax

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"fmt"
)

// pad16 appends n copies of byte n so the length becomes the next multiple of 16.
// A block-aligned input still gains a full block.
func pad16(data []byte) []byte {
	padding := aes.BlockSize - (len(data) % aes.BlockSize)
	padded := make([]byte, 0, len(data)+padding)
	padded = append(padded, data...)
	return append(padded, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func sha1Sum(parts ...[]byte) []byte {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// decryptCBC decrypts ciphertext, which must be block aligned, without removing any padding.
func decryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return plaintext, nil
}

// sampleDecrypter decrypts aavd samples in place. Each sample starts a new
// CBC stream from the file IV, and trailing bytes after the last whole block are stored in clear.
type sampleDecrypter struct {
	block cipher.Block
	iv    [aes.BlockSize]byte
}

func newSampleDecrypter(km *KeyMaterial) (*sampleDecrypter, error) {
	block, err := aes.NewCipher(km.Key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	return &sampleDecrypter{block: block, iv: km.IV}, nil
}

func (d *sampleDecrypter) decrypt(sample []byte) {
	n := len(sample) - len(sample)%aes.BlockSize
	if n == 0 {
		return
	}
	cipher.NewCBCDecrypter(d.block, d.iv[:]).CryptBlocks(sample[:n], sample[:n])
}
