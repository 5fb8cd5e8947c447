// Package fetcher opens image and dataset references: http(s) URLs, ftp
// URLs and local paths.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a single reference.
type Fetcher interface {
	// Download returns the body for ref. The caller must close it.
	Download(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Scheme returns the lower-cased URL scheme of ref, or "" for local paths.
// Windows drive letters ("C:\...") are treated as local.
func Scheme(ref string) string {
	i := strings.Index(ref, "://")
	if i <= 1 {
		return ""
	}
	return strings.ToLower(ref[:i])
}

// IsRemote reports whether ref needs a network fetch.
func IsRemote(ref string) bool {
	switch Scheme(ref) {
	case "http", "https", "ftp":
		return true
	default:
		return false
	}
}

// Multi dispatches on the reference scheme.
type Multi struct {
	HTTP Fetcher
	FTP  Fetcher
}

// New returns a Multi with HTTP and FTP fetchers built from opts.
func New(httpOpts HTTPOptions, ftpOpts FTPOptions) *Multi {
	return &Multi{
		HTTP: NewHTTPFetcher(httpOpts),
		FTP:  NewFTPFetcher(ftpOpts),
	}
}

// Download opens ref. Plain paths and file:// URLs are opened from disk.
func (m *Multi) Download(ctx context.Context, ref string) (io.ReadCloser, error) {
	switch Scheme(ref) {
	case "http", "https":
		if m.HTTP == nil {
			return nil, eris.Errorf("fetcher: no http fetcher for %s", ref)
		}
		return m.HTTP.Download(ctx, ref)
	case "ftp":
		if m.FTP == nil {
			return nil, eris.Errorf("fetcher: no ftp fetcher for %s", ref)
		}
		return m.FTP.Download(ctx, ref)
	case "file":
		u, err := url.Parse(ref)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: parse file url")
		}
		return openLocal(u.Path)
	case "":
		return openLocal(ref)
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme in %s", ref)
	}
}

// ReadAll downloads ref into memory. A positive limit caps the body size.
func (m *Multi) ReadAll(ctx context.Context, ref string, limit int64) ([]byte, error) {
	body, err := m.Download(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	var r io.Reader = body
	if limit > 0 {
		r = io.LimitReader(body, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", ref)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, eris.Errorf("fetcher: %s exceeds %d bytes", ref, limit)
	}
	return data, nil
}

// DownloadToFile writes ref to path and returns the bytes written.
func (m *Multi) DownloadToFile(ctx context.Context, ref, path string) (int64, error) {
	body, err := m.Download(ctx, ref)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck
	return copyToFile(body, path)
}

func openLocal(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	return f, nil
}

func copyToFile(r io.Reader, path string) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	n, err := io.Copy(file, r)
	if err != nil {
		_ = file.Close()
		return n, eris.Wrap(err, "fetcher: write file")
	}
	if err := file.Close(); err != nil {
		return n, eris.Wrap(err, "fetcher: close file")
	}
	return n, nil
}
