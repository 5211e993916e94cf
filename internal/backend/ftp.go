package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
)

// ftpDialTimeout bounds the control-connection dial; transfers use the
// client's own defaults beyond that.
const ftpDialTimeout = 30 * time.Second

// FTPBackend reads model output from an anonymous FTP host. The control
// connection is not safe for concurrent use, so every operation dials
// its own connection and discards it afterward; that is what lets the
// chunked-transfer workers each own a private connection.
type FTPBackend struct {
	host string // host[:port]
}

// NewFTP builds an FTP backend from an ftp:// URL.
func NewFTP(source string) (*FTPBackend, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse source url %s: %w", source, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("source url %s has no host", source)
	}
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}
	return &FTPBackend{host: host}, nil
}

// dial opens and logs into a fresh anonymous session.
func (b *FTPBackend) dial(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(b.host,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(ftpDialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("dial ftp %s: %w", b.host, err)
	}
	if err := conn.Login("anonymous", "anonymous"); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login %s: %w", b.host, err)
	}
	return conn, nil
}

// Download retrieves a file, using REST resume for the range start and
// a bounded read for a closed range end.
func (b *FTPBackend) Download(ctx context.Context, key string, br *ByteRange) ([]byte, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	var offset uint64
	if br != nil {
		offset = uint64(br.Start)
	}

	resp, err := conn.RetrFrom(key, offset)
	if err != nil {
		return nil, classifyFTP(err, key)
	}
	defer resp.Close()

	var r io.Reader = resp
	if br != nil && !br.Open() {
		r = io.LimitReader(resp, br.Length())
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ftp file %s: %w", key, err)
	}
	return data, nil
}

// Size asks the server for the file size.
func (b *FTPBackend) Size(ctx context.Context, key string) (int64, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Quit()

	size, err := conn.FileSize(key)
	if err != nil {
		return 0, classifyFTP(err, key)
	}
	return size, nil
}

// ListMatches is not supported: FTP listing formats vary too much
// between servers to pattern-match reliably.
func (b *FTPBackend) ListMatches(ctx context.Context, prefix, pattern string) ([]string, error) {
	return nil, fmt.Errorf("listing not supported by the ftp backend")
}

// CanSubset is true: the client supports REST resume, which covers the
// range-start side, and closed ends are enforced by a bounded read.
func (b *FTPBackend) CanSubset() bool { return true }

// BaseURL returns the server root.
func (b *FTPBackend) BaseURL() string { return "ftp://" + b.host + "/" }

// Close is a no-op; connections are per-operation.
func (b *FTPBackend) Close() error { return nil }

// classifyFTP tags permanent file-unavailable replies as ErrNotFound.
func classifyFTP(err error, key string) error {
	var proto *textproto.Error
	if errors.As(err, &proto) && proto.Code == ftp.StatusFileUnavailable {
		return fmt.Errorf("ftp file %s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("ftp file %s: %w", key, err)
}
