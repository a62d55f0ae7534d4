package fileapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploadResource(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		isDir      bool
		group      string
		remotePath string
		want       string
	}{
		{
			name:     "file mode uses basename",
			filename: "/home/me/file.txt",
			want:     "file.txt",
		},
		{
			name:       "file mode with remote path nests under group",
			filename:   "file.txt",
			group:      "p11-member-group",
			remotePath: "/inbox/",
			want:       "p11-member-group/inbox/file.txt",
		},
		{
			name:     "directory mode keeps relative path",
			filename: "dir/sub/file.txt",
			isDir:    true,
			group:    "p11-member-group",
			want:     "p11-member-group/dir/sub/file.txt",
		},
		{
			name:       "directory mode with remote path",
			filename:   "dir/file.txt",
			isDir:      true,
			group:      "p11-member-group",
			remotePath: "inbox",
			want:       "p11-member-group/inbox/dir/file.txt",
		},
		{
			name:     "special characters are escaped per segment",
			filename: "dir/a b.txt",
			isDir:    true,
			group:    "g",
			want:     "g/dir/a%20b.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uploadResource(tt.filename, tt.isDir, tt.group, tt.remotePath))
		})
	}
}

func TestResumableKey(t *testing.T) {
	assert.Equal(t, "", resumableKey(&UploadParams{Resource: "file.txt"}))
	assert.Equal(t, "", resumableKey(&UploadParams{Resource: "file.txt", IsDir: true}))
	assert.Equal(t, "dir/sub", resumableKey(&UploadParams{Resource: "dir/sub/file.txt", IsDir: true}))
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, "a/b%20c/d", escapePath("a/b c/d"))
}
