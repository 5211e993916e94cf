// Package keys produces the lazy, ordered sequence of (remote key,
// destination name) pairs a fetch spans. Iterators are forward-only and
// not restartable: once exhausted, a new fetch builds a new iterator.
package keys

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/gsd-data/gridfetch/internal/backend"
	"github.com/gsd-data/gridfetch/internal/products"
)

// RemoteFile is one candidate file: the source key on the transport and
// the preferred destination name. Constructed lazily, consumed
// immediately, never retained.
type RemoteFile struct {
	Key  string
	Name string
}

// Iterator walks a key sequence. Next returns ok=false once the
// sequence is exhausted; errors only occur in listing mode.
type Iterator interface {
	Next(ctx context.Context) (RemoteFile, bool, error)
}

// renderVals carries one cycle/member/forecast combination through the
// key and name templates.
type renderVals struct {
	cycle    time.Time
	prodType string
	fxx      int
	mem      int
}

// render expands the template tokens the registry patterns use. Widths
// are part of the token, matching the upstream pattern convention.
func render(pattern string, v renderVals) string {
	return strings.NewReplacer(
		"{day}", v.cycle.Format("20060102"),
		"{year}", v.cycle.Format("2006"),
		"{yyjjj}", fmt.Sprintf("%s%03d", v.cycle.Format("06"), v.cycle.YearDay()),
		"{hr:02d}", fmt.Sprintf("%02d", v.cycle.Hour()),
		"{fxx:02d}", fmt.Sprintf("%02d", v.fxx),
		"{fxx:03d}", fmt.Sprintf("%03d", v.fxx),
		"{mem:02d}", fmt.Sprintf("%02d", v.mem),
		"{mem:04d}", fmt.Sprintf("%04d", v.mem),
		"{prod_type}", v.prodType,
	).Replace(pattern)
}

// noMember is the sentinel member list for products without an ensemble
// dimension.
var noMember = []int{0}

// TemplateIter renders the product's key pattern for every cycle in
// [start, end), ensemble member, and forecast hour, in that order.
type TemplateIter struct {
	req     *products.Request
	start   time.Time
	end     time.Time
	step    time.Duration
	members []int

	cur  time.Time
	mi   int
	fi   int
	done bool
}

// NewTemplateIter builds the template-mode sequence. The product's own
// cadence wins over the caller's step for known 6-hourly products.
func NewTemplateIter(req *products.Request, start, end time.Time) *TemplateIter {
	members := req.Members
	if len(members) == 0 {
		members = noMember
	}
	return &TemplateIter{
		req:     req,
		start:   start,
		end:     end,
		step:    time.Duration(req.Spec.Step()) * time.Hour,
		members: members,
		cur:     start,
		done:    len(req.Forecasts) == 0,
	}
}

// Next yields the next (key, name) pair.
func (it *TemplateIter) Next(ctx context.Context) (RemoteFile, bool, error) {
	if it.done || !it.cur.Before(it.end) {
		it.done = true
		return RemoteFile{}, false, nil
	}

	v := renderVals{
		cycle:    it.cur,
		prodType: it.req.ProductType,
		fxx:      it.req.Forecasts[it.fi],
		mem:      it.members[it.mi],
	}
	key := render(it.req.Spec.KeyPattern, v)
	name := key
	if it.req.Spec.ODSName != "" {
		name = render(it.req.Spec.ODSName, v)
	}

	it.advance()
	return RemoteFile{Key: key, Name: name}, true, nil
}

func (it *TemplateIter) advance() {
	it.fi++
	if it.fi < len(it.req.Forecasts) {
		return
	}
	it.fi = 0
	it.mi++
	if it.mi < len(it.members) {
		return
	}
	it.mi = 0
	it.cur = it.cur.Add(it.step)
}

// ListingIter discovers keys by listing each cycle's directory prefix
// and keeping objects that contain the configured pattern. No renaming
// is available in this mode: the key is also the destination name.
type ListingIter struct {
	req  *products.Request
	b    backend.Backend
	end  time.Time
	step time.Duration
	log  *slog.Logger

	cur     time.Time
	pending []string
}

// NewListingIter builds the listing-mode sequence.
func NewListingIter(req *products.Request, b backend.Backend, start, end time.Time) *ListingIter {
	return &ListingIter{
		req:  req,
		b:    b,
		end:  end,
		step: time.Duration(req.Spec.Step()) * time.Hour,
		log:  slog.With("component", "keys"),
		cur:  start,
	}
}

// Next yields the next discovered key, fetching the next cycle's
// listing as needed.
func (it *ListingIter) Next(ctx context.Context) (RemoteFile, bool, error) {
	for len(it.pending) == 0 {
		if !it.cur.Before(it.end) {
			return RemoteFile{}, false, nil
		}

		prefix := path.Dir(render(it.req.Spec.KeyPattern, renderVals{
			cycle:    it.cur,
			prodType: it.req.ProductType,
		}))
		it.log.Info("listing cycle directory", "prefix", prefix, "pattern", it.req.MatchPattern)

		matches, err := it.b.ListMatches(ctx, prefix, it.req.MatchPattern)
		if err != nil {
			return RemoteFile{}, false, fmt.Errorf("list matches under %s: %w", prefix, err)
		}
		it.pending = matches
		it.cur = it.cur.Add(it.step)
	}

	key := it.pending[0]
	it.pending = it.pending[1:]
	return RemoteFile{Key: key, Name: key}, true, nil
}
