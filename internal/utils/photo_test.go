package utils

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestDecodePhotoDataURL(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString(pngHeader)
	data, ct, err := DecodePhoto("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, pngHeader, data)
}

func TestDecodePhotoRawSniffs(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	data, ct, err := DecodePhoto(base64.StdEncoding.EncodeToString(jpeg))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)
	assert.Equal(t, jpeg, data)
}

func TestDecodePhotoErrors(t *testing.T) {
	_, _, err := DecodePhoto("   ")
	assert.ErrorIs(t, err, ErrPhotoEmpty)

	_, _, err = DecodePhoto("data:image/png,abc")
	assert.ErrorIs(t, err, ErrPhotoEncoding)

	_, _, err = DecodePhoto("!!!")
	assert.ErrorIs(t, err, ErrPhotoEncoding)

	_, _, err = DecodePhoto(base64.StdEncoding.EncodeToString([]byte("plain text, not an image")))
	assert.ErrorIs(t, err, ErrPhotoType)
}

func TestPhotoExt(t *testing.T) {
	assert.Equal(t, ".png", PhotoExt("image/png"))
	assert.Equal(t, ".jpg", PhotoExt("image/jpeg"))
	assert.Equal(t, ".jpg", PhotoExt(""))
}
