package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Category is one of the asset subtrees under the data directory.
type Category string

const (
	CategoryGenerated Category = "images/generated"
	CategoryUploaded  Category = "images/uploaded"
	CategoryArtifacts Category = "artifacts"
)

// Categories lists every asset subtree.
var Categories = []Category{CategoryGenerated, CategoryUploaded, CategoryArtifacts}

// StaticPrefix is the URL prefix assets are served under.
const StaticPrefix = "/static/"

var (
	ErrNotFound     = errors.New("asset not found")
	ErrInvalidAsset = errors.New("invalid asset reference")
)

// Asset identifies one stored file.
type Asset struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Ext      string   `json:"ext"`
	URL      string   `json:"url"`
}

// Name is the file name within the category: {id}.{ext}.
func (a Asset) Name() string {
	return a.ID + "." + a.Ext
}

// Key is the store-relative path: {category}/{id}.{ext}.
func (a Asset) Key() string {
	return string(a.Category) + "/" + a.Name()
}

// AssetStore persists generated and uploaded files. Ids are unique per
// store and writes are atomic.
type AssetStore interface {
	Save(ctx context.Context, category Category, ext string, data []byte, opts ...SaveOption) (Asset, error)
	Open(ctx context.Context, category Category, name string) (io.ReadCloser, error)
	Ping(ctx context.Context) error
}

type saveOptions struct {
	contentID bool
}

type SaveOption func(*saveOptions)

// WithContentID names the asset after its bytes, so saving the same data
// twice yields the same id and URL.
func WithContentID() SaveOption {
	return func(o *saveOptions) { o.contentID = true }
}

// assetNamespace seeds content-derived ids.
var assetNamespace = uuid.MustParse("6f1c2a8e-5d0b-4c53-9a77-3e0f4b1d8c21")

// ContentID is the id WithContentID assigns to data.
func ContentID(data []byte) string {
	return uuid.NewSHA1(assetNamespace, data).String()
}

func newAsset(category Category, ext string, data []byte, opts []SaveOption) Asset {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	id := uuid.NewString()
	if o.contentID {
		id = ContentID(data)
	}
	asset := Asset{ID: id, Category: category, Ext: cleanExt(ext)}
	asset.URL = URLFor(category, asset.Name())
	return asset
}

func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// URLFor returns the public URL of an asset.
func URLFor(category Category, name string) string {
	return StaticPrefix + string(category) + "/" + name
}

// ParseURL splits a /static/ URL into category and file name.
func ParseURL(url string) (Category, string, error) {
	rest, ok := strings.CutPrefix(url, StaticPrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a static url", ErrInvalidAsset, url)
	}
	dir, name := path.Split(rest)
	category := Category(strings.TrimSuffix(dir, "/"))
	if !ValidCategory(category) || !validName(name) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAsset, url)
	}
	return category, name, nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

func cleanExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ExtForMIME maps an image MIME type to a file extension.
func ExtForMIME(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return cleanExt(exts[0])
	}
	return "bin"
}

// MIMEForName guesses the content type of a stored file.
func MIMEForName(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// ReadURL loads the bytes behind a /static/ URL.
func ReadURL(ctx context.Context, store AssetStore, url string) ([]byte, error) {
	category, name, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	rc, err := store.Open(ctx, category, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
