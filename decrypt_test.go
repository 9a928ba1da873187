package aax

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	samplePlain = []byte("0123456789abcdef0123456789abcdef")
	sampleTail  = []byte("tail")
)

func testKeyMaterial(t *testing.T) *KeyMaterial {
	km, err := NewKeyMaterial(testKey, fileIV(testKey, testDRM))
	require.NoError(t, err)
	return km
}

func encryptedSample(t *testing.T, km *KeyMaterial) []byte {
	return append(encryptCBC(t, km.Key[:], km.IV[:], samplePlain), sampleTail...)
}

func plainSample() []byte {
	return append(append([]byte{}, samplePlain...), sampleTail...)
}

func TestDecryptContainer(t *testing.T) {
	km := testKeyMaterial(t)

	moov := makeBox("moov", makeStco(100))
	trailer := makeBox("meta", []byte("trailing metadata"))
	input := bytes.Join([][]byte{
		makeBox("ftyp", []byte("aax "), u32(0), []byte("aax M4B mp42isom")),
		moov,
		makeBox("mdat",
			makeBox("aavd", encryptedSample(t, km)),
			makeBox("text", []byte("chapter one")),
			makeBox("aavd", encryptedSample(t, km)),
		),
		trailer,
	}, nil)

	out, err := DecryptBytes(context.Background(), bytes.NewReader(input), km)
	require.NoError(t, err)

	expected := bytes.Join([][]byte{
		expectedFtyp,
		moov,
		makeBox("mdat",
			makeBox("mp4a", plainSample()),
			makeBox("text", []byte("chapter one")),
			makeBox("mp4a", plainSample()),
		),
		trailer,
	}, nil)
	assert.Equal(t, expected, out)
}

func TestCompatibleFtyp(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	require.NoError(t, compatibleFtyp().Encode(buf))
	assert.Equal(t, expectedFtyp, buf.Bytes())
	assert.Len(t, buf.Bytes(), 32)
}

func TestDecryptContainerExtendedMdat(t *testing.T) {
	km := testKeyMaterial(t)

	leaf := makeBox("aavd", encryptedSample(t, km))
	mdat := append(append(u32(1), []byte("mdat")...), u64(uint64(16+len(leaf)))...)
	input := bytes.Join([][]byte{
		makeBox("ftyp", []byte("aax "), u32(0)),
		mdat,
		leaf,
	}, nil)

	out, err := DecryptBytes(context.Background(), bytes.NewReader(input), km)
	require.NoError(t, err)

	expected := bytes.Join([][]byte{expectedFtyp, mdat, makeBox("mp4a", plainSample())}, nil)
	assert.Equal(t, expected, out)
}

func TestDecryptContainerProgress(t *testing.T) {
	km := testKeyMaterial(t)

	input := bytes.Join([][]byte{
		makeBox("ftyp", []byte("aax "), u32(0)),
		makeBox("mdat", makeBox("aavd", encryptedSample(t, km)), makeBox("aavd", encryptedSample(t, km))),
	}, nil)

	var calls [][2]int64
	err := decryptContainer(context.Background(), bytes.NewReader(input), km, io.Discard, func(done, total int64) {
		calls = append(calls, [2]int64{done, total})
	})
	require.NoError(t, err)

	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Equal(t, int64(len(input)), last[0])
	assert.Equal(t, int64(len(input)), last[1])
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i][0], calls[i-1][0])
	}
}

func TestDecryptContainerFail(t *testing.T) {
	km := testKeyMaterial(t)
	ftyp := makeBox("ftyp", []byte("aax "), u32(0))

	tests := []struct {
		name  string
		input []byte
		err   error
	}{
		{
			name:  "box overruns file",
			input: append(ftyp, append(u32(64), []byte("moov")...)...),
			err:   ErrMalformedContainer,
		},
		{
			name:  "leaf overruns mdat",
			input: append(ftyp, makeBox("mdat", append(u32(64), []byte("aavd")...))...),
			err:   ErrMalformedContainer,
		},
		{
			name:  "leaf below header",
			input: append(ftyp, makeBox("mdat", append(u32(2), []byte("aavd")...))...),
			err:   ErrMalformedContainer,
		},
		{
			name:  "zero sized box",
			input: append(ftyp, append(u32(0), []byte("free")...)...),
			err:   ErrMalformedContainer,
		},
		{
			name:  "truncated header",
			input: append(ftyp, 0, 0, 0),
			err:   io.ErrUnexpectedEOF,
		},
	}

	for _, tt := range tests {
		_, err := DecryptBytes(context.Background(), bytes.NewReader(tt.input), km)
		assert.ErrorIs(t, err, tt.err, tt.name)
	}
}

func TestDecryptContainerCanceled(t *testing.T) {
	km := testKeyMaterial(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf := bytes.NewBuffer(nil)
	input := makeBox("ftyp", []byte("aax "), u32(0))
	err := DecryptContainer(ctx, bytes.NewReader(input), km, buf)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestDecryptContainerEmpty(t *testing.T) {
	out, err := DecryptBytes(context.Background(), bytes.NewReader(nil), testKeyMaterial(t))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecryptContainerNilKeys(t *testing.T) {
	_, err := DecryptBytes(context.Background(), bytes.NewReader(makeBox("ftyp", []byte("aax "), u32(0))), nil)
	assert.EqualError(t, err, "key material cannot be nil")
}
