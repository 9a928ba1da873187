package aax

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPad16(t *testing.T) {
	tests := []struct {
		input    []byte
		expected []byte
	}{
		{[]byte("OpenAI"), []byte("OpenAI\x0a\x0a\x0a\x0a\x0a\x0a\x0a\x0a\x0a\x0a")},
		{[]byte("0123456789abcde"), []byte("0123456789abcde\x01")},
		{[]byte(""), bytes.Repeat([]byte{0x10}, 16)},
		{[]byte("0123456789abcdef"), append([]byte("0123456789abcdef"), bytes.Repeat([]byte{0x10}, 16)...)},
		{make([]byte, 56), append(make([]byte, 56), bytes.Repeat([]byte{0x08}, 8)...)},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, pad16(test.input))
	}
}

func TestDecryptCBC(t *testing.T) {
	plaintext := []byte("0123456789abcdef0123456789abcdef")
	ciphertext := encryptCBC(t, testKey, testDRM, plaintext)

	got, err := decryptCBC(testKey, testDRM, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, err = decryptCBC(testKey, testDRM, ciphertext[:20])
	assert.Error(t, err)

	_, err = decryptCBC(testKey[:5], testDRM, ciphertext)
	assert.Error(t, err)
}

func TestSampleDecrypter(t *testing.T) {
	km, err := NewKeyMaterial(testKey, testDRM)
	require.NoError(t, err)
	dec, err := newSampleDecrypter(km)
	require.NoError(t, err)

	plaintext := []byte("0123456789abcdef0123456789abcdef")
	tail := []byte("tail")

	for i := 0; i < 2; i++ {
		sample := append(encryptCBC(t, testKey, testDRM, plaintext), tail...)
		dec.decrypt(sample)
		assert.Equal(t, append(append([]byte{}, plaintext...), tail...), sample)
	}

	short := []byte("short")
	dec.decrypt(short)
	assert.Equal(t, []byte("short"), short)
}
