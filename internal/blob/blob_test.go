package blob

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"a.JPG":      "image/jpeg",
		"a.jpeg":     "image/jpeg",
		"logo.png":   "image/png",
		"anim.gif":   "image/gif",
		"pic.webp":   "image/webp",
		"icon.svg":   "image/svg+xml",
		"archive.7z": "application/octet-stream",
		"noext":      "application/octet-stream",
	}
	for name, want := range cases {
		assert.Equal(t, want, ContentType(name), name)
	}
}

func TestCleanKey(t *testing.T) {
	got, err := CleanKey("/post-images//a.png")
	require.NoError(t, err)
	assert.Equal(t, "post-images/a.png", got)

	for _, bad := range []string{"", "/", "../etc/passwd", "post-images/../../x", `post-images\..\x`} {
		_, err := CleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "my-photo--1-.png", CleanName("my photo (1).png"))
	assert.Equal(t, "passwd", CleanName("../../etc/passwd"))
	assert.Equal(t, "upload", CleanName("  "))
}

func TestDirPutGet(t *testing.T) {
	root := t.TempDir()
	store := NewDir(root)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "post-images/x.png", strings.NewReader("png-bytes"), 9, "image/png"))

	rc, obj, err := store.Get(ctx, "post-images/x.png")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(body))
	assert.Equal(t, int64(9), obj.Size)
	assert.Equal(t, "image/png", obj.ContentType)

	_, _, err = store.Get(ctx, "post-images/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "post-images", "dir"), 0o755))
	_, _, err = store.Get(ctx, "post-images/dir")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Put(ctx, "../escape", strings.NewReader("x"), 1, ""), ErrInvalidKey)
}

func TestUploadsNamingAndOpen(t *testing.T) {
	uploads := NewUploads(NewDir(t.TempDir()))
	uploads.newID = func() string { return "fixed" }
	ctx := context.Background()

	url, err := uploads.SaveImage(ctx, "Screen Shot.png", bytes.NewReader([]byte("img")), 3)
	require.NoError(t, err)
	assert.Equal(t, "/api/uploads/post-images/fixed-Screen-Shot.png", url)

	avatar, err := uploads.SaveAvatar(ctx, bytes.NewReader([]byte("jpg")), 3)
	require.NoError(t, err)
	assert.Equal(t, "/api/uploads/user-avatars/fixed-cropped.jpg", avatar)

	rc, obj, err := uploads.Open(ctx, strings.TrimPrefix(avatar, URLPrefix))
	require.NoError(t, err)
	_ = rc.Close()
	assert.Equal(t, "image/jpeg", obj.ContentType)

	_, _, err = uploads.Open(ctx, "private/secret.txt")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSaveImageAcceptsRasterTypesOnly(t *testing.T) {
	uploads := NewUploads(NewDir(t.TempDir()))
	ctx := context.Background()

	for _, name := range []string{"a.jpg", "b.JPEG", "c.png", "d.gif", "e.webp"} {
		_, err := uploads.SaveImage(ctx, name, strings.NewReader("img"), 3)
		assert.NoError(t, err, name)
	}
	for _, name := range []string{"evil.svg", "page.html", "noext", "x.png.svg"} {
		_, err := uploads.SaveImage(ctx, name, strings.NewReader("<svg/>"), 6)
		assert.ErrorIs(t, err, ErrUnsupportedType, name)
	}
}

func TestInline(t *testing.T) {
	assert.True(t, Inline("image/png"))
	assert.True(t, Inline("text/plain; charset=utf-8"))
	assert.False(t, Inline("image/svg+xml"))
	assert.False(t, Inline("text/html"))
	assert.False(t, Inline("application/octet-stream"))
}

func TestAttachmentsSaveAndOpen(t *testing.T) {
	attachments := NewAttachments(NewDir(t.TempDir()))
	attachments.newID = func() string { return "abc123" }
	ctx := context.Background()

	url, err := attachments.Save(ctx, "Quarterly Report.pdf", strings.NewReader("%PDF"), 4)
	require.NoError(t, err)
	assert.Equal(t, "/api/content/abc123-Quarterly-Report.pdf", url)

	rc, obj, err := attachments.Open(ctx, strings.TrimPrefix(url, ContentURLPrefix))
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "application/pdf", obj.ContentType)

	_, _, err = attachments.Open(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
