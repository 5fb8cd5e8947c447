package vision

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// MaxImageBytes caps the size of a resolved image.
const MaxImageBytes = 20 << 20

// minBase64Len is the shortest string treated as inline base64 data.
const minBase64Len = 100

var supportedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ErrUnsupportedImage is returned for bytes that are not jpeg/png/gif/webp.
var ErrUnsupportedImage = eris.New("vision: unsupported image type")

// Image is a decoded image ready to send.
type Image struct {
	Data     []byte
	MIMEType string
	// Source describes where the image came from, for logs.
	Source string
}

// Base64 returns the standard base64 encoding of the image bytes.
func (i *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data: URI.
func (i *Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64()
}

// Format returns the MIME subtype, e.g. "png".
func (i *Image) Format() string {
	return strings.TrimPrefix(i.MIMEType, "image/")
}

// NewImage detects the MIME type of data and rejects unsupported formats.
func NewImage(data []byte, source string) (*Image, error) {
	if len(data) == 0 {
		return nil, eris.Errorf("vision: empty image from %s", source)
	}
	mime := http.DetectContentType(data)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if !supportedMIME[mime] {
		return nil, eris.Wrapf(ErrUnsupportedImage, "%s from %s", mime, source)
	}
	return &Image{Data: data, MIMEType: mime, Source: source}, nil
}

// RemoteReader reads http(s) and ftp references.
type RemoteReader interface {
	ReadAll(ctx context.Context, ref string, limit int64) ([]byte, error)
}

// Resolver turns an image reference from a record into an Image.
type Resolver struct {
	remote RemoteReader
}

// NewResolver returns a Resolver. remote may be nil, in which case URL
// references fail.
func NewResolver(remote RemoteReader) *Resolver {
	return &Resolver{remote: remote}
}

// Resolve accepts an http(s)/ftp URL, a data URI, raw base64 or a local
// path, in that order of detection.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, eris.New("vision: empty image reference")
	}

	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "ftp://"):
		if r.remote == nil {
			return nil, eris.Errorf("vision: no fetcher for %s", ref)
		}
		data, err := r.remote.ReadAll(ctx, ref, MaxImageBytes)
		if err != nil {
			return nil, eris.Wrap(err, "vision: fetch image")
		}
		return NewImage(data, ref)

	case strings.HasPrefix(lower, "data:"):
		data, err := decodeDataURI(ref)
		if err != nil {
			return nil, err
		}
		return NewImage(data, "data-uri")
	}

	if len(ref) > minBase64Len {
		if data, ok := decodeBase64(ref); ok {
			if img, err := NewImage(data, "base64"); err == nil {
				return img, nil
			}
		}
	}

	path := strings.TrimPrefix(ref, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vision: read image %s", path)
	}
	return NewImage(data, path)
}

func decodeDataURI(ref string) ([]byte, error) {
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return nil, eris.New("vision: malformed data uri")
	}
	meta := strings.ToLower(ref[:comma])
	if !strings.HasSuffix(meta, ";base64") {
		return nil, eris.New("vision: data uri is not base64")
	}
	data, ok := decodeBase64(ref[comma+1:])
	if !ok {
		return nil, eris.New("vision: invalid base64 in data uri")
	}
	return data, nil
}

func decodeBase64(s string) ([]byte, bool) {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, true
		}
	}
	return nil, false
}
