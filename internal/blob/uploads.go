package blob

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	PrefixPostImages = "post-images"
	PrefixAvatars    = "user-avatars"

	// URLPrefix is where uploaded objects are served from.
	URLPrefix = "/api/uploads/"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// Uploads names and stores user uploads under the two public prefixes.
type Uploads struct {
	store Store
	newID func() string
}

func NewUploads(store Store) *Uploads {
	return &Uploads{store: store, newID: uuid.NewString}
}

func (u *Uploads) Store() Store { return u.store }

// CleanName replaces everything but letters, digits, dots and hyphens.
func CleanName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		return "upload"
	}
	return unsafeName.ReplaceAllString(name, "-")
}

// SaveImage stores a post image and returns its public URL. Only raster
// image types are accepted.
func (u *Uploads) SaveImage(ctx context.Context, filename string, body io.Reader, size int64) (string, error) {
	if !IsRasterImage(filename) {
		return "", fmt.Errorf("%w: %s is not a jpg, png, gif or webp image", ErrUnsupportedType, CleanName(filename))
	}
	key := fmt.Sprintf("%s/%s-%s", PrefixPostImages, u.newID(), CleanName(filename))
	if err := u.store.Put(ctx, key, body, size, ContentType(filename)); err != nil {
		return "", err
	}
	return URLPrefix + key, nil
}

// SaveAvatar stores a cropped avatar image and returns its public URL.
func (u *Uploads) SaveAvatar(ctx context.Context, body io.Reader, size int64) (string, error) {
	key := fmt.Sprintf("%s/%s-cropped.jpg", PrefixAvatars, u.newID())
	if err := u.store.Put(ctx, key, body, size, "image/jpeg"); err != nil {
		return "", err
	}
	return URLPrefix + key, nil
}

// Open serves a previously stored upload. Only the public prefixes are
// readable.
func (u *Uploads) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return nil, Object{}, err
	}
	if !strings.HasPrefix(cleaned, PrefixAvatars+"/") && !strings.HasPrefix(cleaned, PrefixPostImages+"/") {
		return nil, Object{}, fmt.Errorf("%w: %s is outside the upload prefixes", ErrInvalidKey, cleaned)
	}
	return u.store.Get(ctx, cleaned)
}

// ContentURLPrefix is where page attachments are served from.
const ContentURLPrefix = "/api/content/"

// Attachments stores files linked from page content, such as PDFs and
// office documents.
type Attachments struct {
	store Store
	newID func() string
}

func NewAttachments(store Store) *Attachments {
	return &Attachments{store: store, newID: func() string {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}}
}

// Save stores body under a unique key derived from filename and returns
// its URL.
func (a *Attachments) Save(ctx context.Context, filename string, body io.Reader, size int64) (string, error) {
	key := a.newID() + "-" + CleanName(filename)
	if err := a.store.Put(ctx, key, body, size, ContentType(filename)); err != nil {
		return "", err
	}
	return ContentURLPrefix + key, nil
}

// Open returns a stored attachment.
func (a *Attachments) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return nil, Object{}, err
	}
	return a.store.Get(ctx, cleaned)
}
