// Package backend abstracts the three transports that distribute model
// output: S3-style object stores, plain HTTPS servers, and FTP hosts.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound classifies a missing-object condition on any transport:
// object-store "no such key", HTTP 404, or an FTP permanent
// file-unavailable reply. Callers treat it as "skip and continue";
// every other transport failure is fatal and aborts the run.
var ErrNotFound = errors.New("object not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// ByteRange is a byte span within a remote object. End < 0 means
// "through end of file". Closed ends are inclusive, per the HTTP Range
// convention the upstream index files assume.
type ByteRange struct {
	Start int64
	End   int64
}

// Open reports whether the range extends to the end of the object.
func (r ByteRange) Open() bool { return r.End < 0 }

// Header renders the range as a "bytes=start-end" token.
func (r ByteRange) Header() string {
	if r.Open() {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Length returns the number of bytes a closed range covers, or -1 for
// an open range.
func (r ByteRange) Length() int64 {
	if r.Open() {
		return -1
	}
	return r.End - r.Start + 1
}

// Backend is the uniform download/size/list capability over one transport.
type Backend interface {
	// Download fetches an object, optionally restricted to a byte range.
	// A missing object yields an error wrapping ErrNotFound.
	Download(ctx context.Context, key string, br *ByteRange) ([]byte, error)

	// Size returns the object length in bytes, or an ErrNotFound-wrapping
	// error when the object cannot be found.
	Size(ctx context.Context, key string) (int64, error)

	// ListMatches lists objects under prefix whose keys contain pattern,
	// excluding sidecar index objects. Only the object-store variant
	// implements listing; the others return an error.
	ListMatches(ctx context.Context, prefix, pattern string) ([]string, error)

	// CanSubset reports whether the transport honors byte-range requests.
	// When false the orchestrator takes the full-file path regardless of
	// any configured field-selection expression.
	CanSubset() bool

	// BaseURL is the resolved root URL of the source, for logging.
	BaseURL() string

	// Close releases any client resources.
	Close() error
}

// New selects a backend variant by inspecting the source string once:
// an http(s) URL gets the web variant, an ftp URL the FTP variant, and
// anything else is taken as an S3 bucket name. forceHTTP rewrites a
// bucket source to its public HTTPS endpoint and uses the web variant,
// mirroring the fallback used when no native object-store client is
// available.
func New(source string, forceHTTP bool) (Backend, error) {
	if forceHTTP && !strings.Contains(source, "://") {
		source = "https://" + source + ".s3.amazonaws.com/"
	}
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return NewWeb(source)
	case strings.HasPrefix(source, "ftp://"):
		return NewFTP(source)
	default:
		return NewS3(source)
	}
}
