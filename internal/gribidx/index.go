// Package gribidx parses GRIB sidecar index documents and selects the
// byte ranges covering the fields a caller asked for.
package gribidx

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gsd-data/gridfetch/internal/backend"
)

// IndexSuffix is appended to a data object's key to locate its sidecar index.
const IndexSuffix = ".idx"

// Entry is one parsed line of a sidecar index. Fields are positional:
// <n>:<offset>:<ref_time>:<variable>:<level>:<forecast>:<...>
type Entry struct {
	MessageNum  int
	Offset      int64
	RefTime     string
	Variable    string
	Level       string
	ForecastTok string
	Raw         string
}

// Match pairs a selected byte range with the index entry that produced it.
type Match struct {
	Range backend.ByteRange
	Entry Entry
}

// minFields is the smallest number of colon-delimited fields a valid
// index line carries.
const minFields = 7

// Parse splits an index document into entries, skipping empty lines.
func Parse(doc string) ([]Entry, error) {
	var entries []Entry
	for _, line := range strings.Split(doc, "\n") {
		if line == "" {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseLine(line string) (Entry, error) {
	fields := strings.SplitN(line, ":", minFields)
	if len(fields) < minFields {
		return Entry{}, fmt.Errorf("invalid index line %q: want at least %d fields, got %d",
			line, minFields, len(fields))
	}
	num, err := strconv.Atoi(fields[0])
	if err != nil {
		return Entry{}, fmt.Errorf("invalid message number in index line %q: %w", line, err)
	}
	offset, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid byte offset in index line %q: %w", line, err)
	}
	return Entry{
		MessageNum:  num,
		Offset:      offset,
		RefTime:     fields[2],
		Variable:    fields[3],
		Level:       fields[4],
		ForecastTok: fields[5],
		Raw:         line,
	}, nil
}

// FetchIndex retrieves and parses the sidecar index for key. A missing
// index document is not an error: it returns (nil, nil) and the caller
// falls through to its full-file policy.
func FetchIndex(ctx context.Context, b backend.Backend, key string) ([]Entry, error) {
	data, err := b.Download(ctx, key+IndexSuffix, nil)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch index for %s: %w", key, err)
	}
	entries, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse index for %s: %w", key, err)
	}
	return entries, nil
}

// Select returns the byte ranges for every entry whose raw line matches
// expr (a regular expression, searched, not anchored). Each range starts
// at the matching entry's own offset and ends at the next entry's offset
// in document order, whether or not that entry matched; the last entry's
// range is open-ended. Ranges come back in ascending start order.
func Select(entries []Entry, expr string) ([]Match, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile field expression %q: %w", expr, err)
	}
	var matches []Match
	for i, e := range entries {
		if !re.MatchString(e.Raw) {
			continue
		}
		r := backend.ByteRange{Start: e.Offset, End: -1}
		if i+1 < len(entries) {
			r.End = entries[i+1].Offset
		}
		matches = append(matches, Match{Range: r, Entry: e})
	}
	return matches, nil
}
