// Package ingest loads track catalogs from CSV files into the store.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hupe1980/melodex/model"
	"github.com/hupe1980/melodex/store"
)

// ErrMissingHeader is returned when the CSV lacks the required title and
// artist columns.
var ErrMissingHeader = errors.New("csv must have title and artist columns")

// insertBatchSize bounds rows per insert transaction.
const insertBatchSize = 500

// Options configures the loader.
type Options struct {
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Loader reads CSV catalogs into the store.
type Loader struct {
	store *store.Store
	opts  Options
}

// New creates a loader writing to s.
func New(s *store.Store, optFns ...func(o *Options)) *Loader {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Loader{store: s, opts: opts}
}

// Report summarizes one load.
type Report struct {
	// Read is the number of data rows in the file.
	Read int

	// Skipped counts rows missing title or artist.
	Skipped int

	// Inserted counts rows actually written; duplicates of an existing
	// (title, artist) pair read fine but insert as zero.
	Inserted int
}

// Load reads a CSV catalog from r. The first row is a header; columns are
// matched by name (case-insensitive), so column order does not matter.
// Recognized columns: title, artist, album, genre, release_year, lyrics,
// popularity_score. Rows without a title or artist are skipped with a
// warning, not treated as errors.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Report, error) {
	var report Report

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return report, ErrMissingHeader
		}
		return report, fmt.Errorf("failed to read csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	if _, ok := cols["title"]; !ok {
		return report, ErrMissingHeader
	}
	if _, ok := cols["artist"]; !ok {
		return report, ErrMissingHeader
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	batch := make([]model.Track, 0, insertBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		inserted, err := l.store.InsertTracks(ctx, batch)
		if err != nil {
			return err
		}

		report.Inserted += inserted
		batch = batch[:0]

		return nil
	}

	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("failed to read csv row: %w", err)
		}

		report.Read++

		title := field(row, "title")
		artist := field(row, "artist")

		if title == "" || artist == "" {
			report.Skipped++
			l.opts.Logger.Warn("skipping row without title or artist", "line", line)
			continue
		}

		track := model.Track{
			Title:  title,
			Artist: artist,
			Album:  field(row, "album"),
			Genre:  field(row, "genre"),
			Lyrics: field(row, "lyrics"),
		}

		if raw := field(row, "release_year"); raw != "" {
			year, err := strconv.Atoi(raw)
			if err != nil {
				report.Skipped++
				l.opts.Logger.Warn("skipping row with invalid release_year", "line", line, "value", raw)
				continue
			}
			track.ReleaseYear = year
		}

		if raw := field(row, "popularity_score"); raw != "" {
			if score, err := strconv.ParseFloat(raw, 64); err == nil {
				track.PopularityScore = score
			}
		}

		batch = append(batch, track)

		if len(batch) == insertBatchSize {
			if err := flush(); err != nil {
				return report, err
			}
		}
	}

	if err := flush(); err != nil {
		return report, err
	}

	l.opts.Logger.Info("csv load complete",
		"read", report.Read,
		"inserted", report.Inserted,
		"skipped", report.Skipped,
	)

	return report, nil
}
