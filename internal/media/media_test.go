package media

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestValidateUploadsSniffsContent(t *testing.T) {
	files, err := ValidateUploads([]File{{Name: "a.bin", MimeType: "application/octet-stream", Data: pngHeader}})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "image/png", files[0].MimeType)
	assert.Equal(t, ".png", files[0].Extension())
}

func TestValidateUploadsRejects(t *testing.T) {
	cases := []struct {
		name  string
		files []File
		want  error
	}{
		{name: "too many", files: make([]File, MaxUploadFiles+1), want: ErrTooManyFiles},
		{name: "empty", files: []File{{Name: "a.png"}}, want: ErrEmptyFile},
		{name: "text", files: []File{{Name: "a.png", MimeType: "image/png", Data: []byte("just words, not pixels")}}, want: ErrNotAnImage},
		{name: "too large", files: []File{{Name: "big.png", Data: append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, MaxUploadBytes)...)}}, want: ErrFileTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateUploads(tc.files)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSniffKeepsDeclaredType(t *testing.T) {
	f := Sniff(File{MimeType: "image/jpeg", Data: pngHeader})
	assert.Equal(t, "image/jpeg", f.MimeType)
	f = Sniff(File{Data: pngHeader})
	assert.Equal(t, "image/png", f.MimeType)
}
