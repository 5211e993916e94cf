// Package fetcher composes the resolver, key sequencer, index selector,
// and transport backends to satisfy one retrieval request end to end.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/gsd-data/gridfetch/internal/backend"
	"github.com/gsd-data/gridfetch/internal/cycle"
	"github.com/gsd-data/gridfetch/internal/gribidx"
	"github.com/gsd-data/gridfetch/internal/keys"
	"github.com/gsd-data/gridfetch/internal/metrics"
	"github.com/gsd-data/gridfetch/internal/products"
	"github.com/gsd-data/gridfetch/internal/transfer"
)

// fcstHourPat extracts the 3-digit forecast hour from a rendered key.
var fcstHourPat = regexp.MustCompile(`f[0-9]{3}`)

// Fetcher runs one retrieval request. The top-level file loop is
// strictly sequential; concurrency lives entirely inside the chunked
// range transfer.
type Fetcher struct {
	req *products.Request
	b   backend.Backend
	res *cycle.Resolver
	m   *metrics.Metrics
	log *slog.Logger
}

// New builds a fetcher for one resolved request.
func New(req *products.Request, b backend.Backend, res *cycle.Resolver, m *metrics.Metrics) *Fetcher {
	if res == nil {
		res = cycle.NewResolver()
	}
	return &Fetcher{
		req: req,
		b:   b,
		res: res,
		m:   m,
		log: slog.With("component", "fetcher", "product", req.Product, "type", req.ProductType),
	}
}

// Run fetches every expected file for the request's window, writing
// results under the output root. Cancellation is checked between files;
// in-flight transfers run to completion.
func (f *Fetcher) Run(ctx context.Context) error {
	spec := f.req.Spec
	start, end, err := f.res.Window(spec, f.req.Start, f.req.End, spec.Step(), f.req.CyclesBack)
	if err != nil {
		return err
	}

	var it keys.Iterator
	if f.req.MatchPattern != "" {
		it = keys.NewListingIter(f.req, f.b, start, end)
	} else {
		it = keys.NewTemplateIter(f.req, start, end)
	}

	f.log.Info("starting fetch",
		"source", f.b.BaseURL(),
		"window_start", start.Format(time.RFC3339),
		"window_end", end.Format(time.RFC3339),
		"cycles_back", f.req.CyclesBack,
		"vars", f.req.SearchStr,
		"dry_run", f.req.DryRun,
	)

	fetched, skipped := 0, 0
	var bytesWritten int64
	startTime := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			f.log.Info("fetch canceled", "fetched", fetched, "skipped", skipped)
			return err
		}

		rf, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		dest := filepath.Join(f.req.Dest, rf.Key)
		if f.req.ODS {
			dest = filepath.Join(f.req.Dest, rf.Name)
		}

		if _, err := os.Stat(f.finalPath(dest)); err == nil {
			f.log.Debug("skipping existing file", "dest", dest)
			skipped++
			f.m.IncSkipped(f.req.Product, f.req.ProductType)
			continue
		}

		f.log.Info("downloading", "key", rf.Key, "dest", dest)
		data, err := f.fetchOne(ctx, rf.Key, dest)
		if err != nil {
			f.log.Error("fetch failed", "key", rf.Key, "error", err)
			return err
		}
		if len(data) == 0 {
			continue
		}

		n, err := f.write(dest, data)
		if err != nil {
			return err
		}
		fetched++
		bytesWritten += n
		f.m.IncFetched(f.req.Product, f.req.ProductType)
		f.m.AddBytes(f.req.Product, f.req.ProductType, float64(n))
	}

	f.log.Info("fetch complete",
		"fetched", fetched,
		"skipped", skipped,
		"bytes", bytesWritten,
		"duration", time.Since(startTime).Round(time.Millisecond).String(),
	)
	return nil
}

// fetchOne retrieves one candidate. It returns nil bytes (and no error)
// for absent objects, dry runs, and empty subsets; the caller writes
// nothing in those cases.
func (f *Fetcher) fetchOne(ctx context.Context, key, dest string) ([]byte, error) {
	if f.req.SearchStr == "" || !f.b.CanSubset() {
		return f.fetchFull(ctx, key, dest)
	}

	expr := f.req.SearchStr
	if f.req.Spec.APCPFix {
		expr = rewriteAPCP(expr, key)
	}
	return f.fetchSubset(ctx, key, dest, expr)
}

// fetchFull is the whole-file path, chunked for product types known to
// produce very large files (unless an alternate path was requested,
// whose files are regional cutouts and small).
func (f *Fetcher) fetchFull(ctx context.Context, key, dest string) ([]byte, error) {
	if f.req.SaveIndex {
		if err := f.saveIndex(ctx, key, dest); err != nil {
			return nil, err
		}
	}
	if f.req.DryRun {
		f.log.Info("dry run: would fetch full file", "key", key)
		return nil, nil
	}

	useChunks := f.req.Spec.Chunked(f.req.ProductType) && !f.req.AltPath
	data, err := transfer.FetchFull(ctx, f.b, key, useChunks)
	if err != nil {
		if backend.IsNotFound(err) {
			f.log.Warn("object not found, skipping", "key", key)
			f.m.IncMissing(f.req.Product, f.req.ProductType)
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// fetchSubset downloads only the byte ranges whose index lines match
// expr. A missing index document falls through to the full-file policy.
func (f *Fetcher) fetchSubset(ctx context.Context, key, dest string, expr string) ([]byte, error) {
	entries, err := gribidx.FetchIndex(ctx, f.b, key)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		f.log.Warn("no index document, falling back to full file", "key", key)
		return f.fetchFull(ctx, key, dest)
	}

	if f.req.SaveIndex {
		if err := writeIndexFile(f.finalPath(dest), entries); err != nil {
			return nil, err
		}
	}

	matches, err := gribidx.Select(entries, expr)
	if err != nil {
		return nil, err
	}
	f.m.ObserveFields(f.req.Product, f.req.ProductType, float64(len(matches)))

	if f.req.DryRun {
		f.log.Info("dry run: index searched", "key", key, "vars", expr, "fields", len(matches))
		return nil, nil
	}

	ranges := make([]backend.ByteRange, len(matches))
	for i, m := range matches {
		ranges[i] = m.Range
	}
	f.m.AddRangeRequests(f.req.Product, f.req.ProductType, float64(len(ranges)))

	data, err := transfer.FetchRanges(ctx, f.b, key, ranges, transfer.DefaultWorkers)
	if err != nil {
		if backend.IsNotFound(err) {
			f.log.Warn("object vanished during ranged fetch, skipping", "key", key)
			f.m.IncMissing(f.req.Product, f.req.ProductType)
			return nil, nil
		}
		return nil, err
	}
	f.log.Debug("subset fetched", "key", key, "vars", expr, "fields", len(matches), "bytes", len(data))
	return data, nil
}

// rewriteAPCP pins the accumulated-precipitation selection to the
// 1-hour window ending at this key's forecast hour, so the 6-hour
// accumulation is never matched. The previous hour has no lower bound:
// at forecast hour 0 the expression embeds -1 and matches nothing.
func rewriteAPCP(expr, key string) string {
	tok := fcstHourPat.FindString(path.Base(key))
	if tok == "" {
		return expr
	}
	fxx, err := strconv.Atoi(tok[1:])
	if err != nil {
		return expr
	}
	return strings.ReplaceAll(expr, "APCP:surface", "APCP:surface:"+strconv.Itoa(fxx-1))
}

// finalPath strips the compressed suffix for products whose objects are
// published gzipped and written decompressed.
func (f *Fetcher) finalPath(dest string) string {
	if f.req.Spec.Decompress {
		return strings.TrimSuffix(dest, ".gz")
	}
	return dest
}

// write stores data at dest, creating parents and writing through a
// temp file so a partial download never lands at the final path.
// Gzipped payloads of decompress-flagged products are expanded first.
func (f *Fetcher) write(dest string, data []byte) (int64, error) {
	if f.req.Spec.Decompress && strings.HasSuffix(dest, ".gz") {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return 0, fmt.Errorf("open gzip payload for %s: %w", dest, err)
		}
		expanded, err := io.ReadAll(gz)
		gz.Close()
		if err != nil {
			return 0, fmt.Errorf("decompress payload for %s: %w", dest, err)
		}
		data = expanded
		dest = strings.TrimSuffix(dest, ".gz")
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("create directory %s: %w", filepath.Dir(dest), err)
	}

	tempPath := dest + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return 0, fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, dest); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("rename %s to %s: %w", tempPath, dest, err)
	}
	return int64(len(data)), nil
}

// saveIndex fetches and writes the sidecar index beside the data file,
// for the full-file path where no index fetch happens otherwise.
func (f *Fetcher) saveIndex(ctx context.Context, key, dest string) error {
	entries, err := gribidx.FetchIndex(ctx, f.b, key)
	if err != nil {
		return err
	}
	if entries == nil {
		return nil
	}
	return writeIndexFile(f.finalPath(dest), entries)
}

// writeIndexFile writes index lines to dest.idx.
func writeIndexFile(dest string, entries []gribidx.Entry) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", filepath.Dir(dest), err)
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Raw)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(dest+gribidx.IndexSuffix, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write index file %s: %w", dest+gribidx.IndexSuffix, err)
	}
	return nil
}
