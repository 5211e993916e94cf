package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/jlaffaye/ftp"
)

func TestByteRange(t *testing.T) {
	tests := []struct {
		r      ByteRange
		header string
		length int64
	}{
		{ByteRange{Start: 0, End: 499}, "bytes=0-499", 500},
		{ByteRange{Start: 500, End: 1199}, "bytes=500-1199", 700},
		{ByteRange{Start: 1200, End: -1}, "bytes=1200-", -1},
	}

	for _, tt := range tests {
		if got := tt.r.Header(); got != tt.header {
			t.Errorf("Header() = %s, want %s", got, tt.header)
		}
		if got := tt.r.Length(); got != tt.length {
			t.Errorf("Length() = %d, want %d", got, tt.length)
		}
		if tt.r.Open() != (tt.length < 0) {
			t.Errorf("Open() = %v for %s", tt.r.Open(), tt.header)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("key x: %w", ErrNotFound)) {
		t.Error("wrapped ErrNotFound should classify as not found")
	}
	if IsNotFound(errors.New("timeout")) {
		t.Error("unrelated errors should not classify as not found")
	}
}

func TestNewSelectsVariant(t *testing.T) {
	tests := []struct {
		source    string
		forceHTTP bool
		wantBase  string
	}{
		{"https://nomads.ncep.noaa.gov/pub/", false, "https://nomads.ncep.noaa.gov/"},
		{"http://example.gov/data/", false, "http://example.gov/"},
		{"noaa-hrrr-bdp-pds", true, "https://noaa-hrrr-bdp-pds.s3.amazonaws.com/"},
	}

	for _, tt := range tests {
		b, err := New(tt.source, tt.forceHTTP)
		if err != nil {
			t.Errorf("New(%q) failed: %v", tt.source, err)
			continue
		}
		if _, ok := b.(*WebBackend); !ok {
			t.Errorf("New(%q) = %T, want *WebBackend", tt.source, b)
		}
		if got := b.BaseURL(); got != tt.wantBase {
			t.Errorf("New(%q).BaseURL() = %s, want %s", tt.source, got, tt.wantBase)
		}
		b.Close()
	}

	b, err := New("ftp://ftp.example.gov/data/", false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*FTPBackend); !ok {
		t.Errorf("New returned %T, want *FTPBackend", b)
	}
}

func TestNewWebRejectsHostless(t *testing.T) {
	if _, err := NewWeb("https://"); err == nil {
		t.Error("NewWeb should fail without a host")
	}
}

func TestWebDownload(t *testing.T) {
	payload := "0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/file.grib2":
			if rng := r.Header.Get("Range"); rng != "" {
				// Serve the literal span; enough for range plumbing checks.
				var start, end int
				if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err == nil {
					w.WriteHeader(http.StatusPartialContent)
					fmt.Fprint(w, payload[start:end+1])
					return
				}
			}
			fmt.Fprint(w, payload)
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b, err := NewWeb(srv.URL)
	if err != nil {
		t.Fatalf("NewWeb failed: %v", err)
	}
	ctx := context.Background()

	data, err := b.Download(ctx, "data/file.grib2", nil)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(data) != payload {
		t.Errorf("Download = %q, want %q", data, payload)
	}

	data, err = b.Download(ctx, "data/file.grib2", &ByteRange{Start: 2, End: 5})
	if err != nil {
		t.Fatalf("ranged Download failed: %v", err)
	}
	if string(data) != "2345" {
		t.Errorf("ranged Download = %q, want 2345", data)
	}

	_, err = b.Download(ctx, "data/missing.grib2", nil)
	if !IsNotFound(err) {
		t.Errorf("404 should classify as not found, got: %v", err)
	}

	_, err = b.Download(ctx, "boom", nil)
	if err == nil || IsNotFound(err) {
		t.Errorf("server errors must stay fatal, got: %v", err)
	}
}

func TestWebSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/obj" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", "12345")
	}))
	defer srv.Close()

	b, err := NewWeb(srv.URL)
	if err != nil {
		t.Fatalf("NewWeb failed: %v", err)
	}

	size, err := b.Size(context.Background(), "obj")
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 12345 {
		t.Errorf("Size = %d, want 12345", size)
	}

	if _, err := b.Size(context.Background(), "missing"); !IsNotFound(err) {
		t.Errorf("404 should classify as not found, got: %v", err)
	}
}

func TestWebListUnsupported(t *testing.T) {
	b, err := NewWeb("https://example.gov/")
	if err != nil {
		t.Fatalf("NewWeb failed: %v", err)
	}
	if _, err := b.ListMatches(context.Background(), "prefix", "grib2"); err == nil {
		t.Error("ListMatches should fail on the web backend")
	}
}

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		status   int
		notFound bool
		fatal    bool
	}{
		{200, false, false},
		{206, false, false},
		{404, true, false},
		{403, false, true},
		{500, false, true},
	}

	for _, tt := range tests {
		err := classifyHTTP(tt.status, "https://example.gov/x")
		switch {
		case tt.notFound:
			if !IsNotFound(err) {
				t.Errorf("status %d: want not-found, got: %v", tt.status, err)
			}
		case tt.fatal:
			if err == nil || IsNotFound(err) {
				t.Errorf("status %d: want fatal error, got: %v", tt.status, err)
			}
		default:
			if err != nil {
				t.Errorf("status %d: want success, got: %v", tt.status, err)
			}
		}
	}
}

func TestClassifyFTP(t *testing.T) {
	err := classifyFTP(&textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file"}, "x")
	if !IsNotFound(err) {
		t.Errorf("550 should classify as not found, got: %v", err)
	}

	err = classifyFTP(&textproto.Error{Code: ftp.StatusNotAvailable, Msg: "Service not available"}, "x")
	if err == nil || IsNotFound(err) {
		t.Errorf("transient replies must stay fatal, got: %v", err)
	}
}

func TestFTPHostParsing(t *testing.T) {
	b, err := NewFTP("ftp://ftp.ncep.noaa.gov/pub/data/")
	if err != nil {
		t.Fatalf("NewFTP failed: %v", err)
	}
	defer b.Close()
	if !strings.HasPrefix(b.BaseURL(), "ftp://ftp.ncep.noaa.gov") {
		t.Errorf("BaseURL = %s, want the ftp host root", b.BaseURL())
	}
	if !b.CanSubset() {
		t.Error("the FTP backend supports resumed reads and should subset")
	}
}
