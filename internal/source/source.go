// Package source reads host lists, plain or ranked, from files and URLs and
// turns them into Sites.
package source

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/FranksOps/sitelayout/pkg/httpclient"
	"github.com/xuri/excelize/v2"
)

// Entry is one host from a source list.
type Entry struct {
	Host string
	Rank int // 0 for unranked lists
}

// Format is the layout of a source list.
type Format string

const (
	// FormatAuto picks the format from the location's extension.
	FormatAuto Format = ""
	// FormatList is one host per line; '#' starts a comment.
	FormatList Format = "list"
	// FormatCSV is rank,host rows as published by Tranco or Alexa top lists.
	FormatCSV Format = "csv"
	// FormatXLSX is rank,host rows on the first sheet of a workbook.
	FormatXLSX Format = "xlsx"
)

// ParseFormat parses a configured format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatAuto, FormatList, FormatCSV, FormatXLSX:
		return f, nil
	case "auto":
		return FormatAuto, nil
	}
	return "", fmt.Errorf("source: unknown format %q", s)
}

// Options control how a list is read.
type Options struct {
	Format Format
	// Start skips that many entries before the first one returned.
	Start int
	// Count caps the number of entries returned; 0 returns all.
	Count int
}

// StatusError is returned when a remote list answers with a non-2xx status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source: fetch %s: status %d", e.URL, e.Code)
}

// Load reads the list at location, a file path or an http(s) URL. client
// may be nil for file locations.
func Load(ctx context.Context, location string, client *httpclient.Client, opts Options) ([]Entry, error) {
	rc, err := open(ctx, location, client)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if opts.Format == FormatAuto {
		opts.Format = formatFor(location)
	}
	return Parse(rc, opts)
}

func formatFor(location string) Format {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		location = location[:i]
	}
	switch strings.ToLower(path.Ext(location)) {
	case ".csv":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	}
	return FormatList
}

func open(ctx context.Context, location string, client *httpclient.Client) (io.ReadCloser, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		return f, nil
	}

	if client == nil {
		return nil, errors.New("source: http client required for remote lists")
	}
	resp, err := client.Get(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		return nil, &StatusError{URL: location, Code: resp.StatusCode}
	}
	return resp.Body, nil
}

// Parse reads entries from r. Hosts are normalized; repeated hosts keep
// their first occurrence.
func Parse(r io.Reader, opts Options) ([]Entry, error) {
	var (
		entries []Entry
		err     error
	)
	switch opts.Format {
	case FormatCSV:
		entries, err = parseCSV(r)
	case FormatXLSX:
		entries, err = parseXLSX(r)
	case FormatList, FormatAuto:
		entries, err = parseList(r)
	default:
		return nil, fmt.Errorf("source: unknown format %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(entries))
	uniq := entries[:0]
	for _, e := range entries {
		if seen[e.Host] {
			continue
		}
		seen[e.Host] = true
		uniq = append(uniq, e)
	}

	return page(uniq, opts.Start, opts.Count), nil
}

func page(entries []Entry, start, count int) []Entry {
	if start > len(entries) {
		return nil
	}
	if start > 0 {
		entries = entries[start:]
	}
	if count > 0 && count < len(entries) {
		entries = entries[:count]
	}
	return entries
}

func parseList(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if host := NormalizeHost(line); host != "" {
			entries = append(entries, Entry{Host: host})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read host list: %w", err)
	}
	return entries, nil
}

func parseCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ranked list: %w", err)
		}
		records = append(records, rec)
	}
	return rankedEntries(records)
}

func parseXLSX(r io.Reader) ([]Entry, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("open workbook: no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}

	// GetRows keeps empty rows inside the used range
	records := rows[:0]
	for _, row := range rows {
		if len(row) > 0 {
			records = append(records, row)
		}
	}
	return rankedEntries(records)
}

// rankedEntries converts rank,host records. A first record without a
// numeric rank is a header.
func rankedEntries(records [][]string) ([]Entry, error) {
	var entries []Entry
	for i, rec := range records {
		n := i + 1
		if len(rec) < 2 {
			return nil, fmt.Errorf("read ranked list: record %d: want rank,host", n)
		}

		rank, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			if n == 1 {
				continue
			}
			return nil, fmt.Errorf("read ranked list: record %d: invalid rank %q", n, rec[0])
		}
		if host := NormalizeHost(rec[1]); host != "" {
			entries = append(entries, Entry{Host: host, Rank: rank})
		}
	}
	return entries, nil
}

// NormalizeHost lowercases s and strips a scheme, a path and a trailing dot.
func NormalizeHost(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, ".")
}
