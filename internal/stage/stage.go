// Package stage persists parsed row batches as Parquet snapshots on
// local disk between extraction and loading.
package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/mgiordano/apielt/internal/logging"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Stager writes row batches into a staging folder with deterministic,
// self-describing file names.
type Stager struct {
	folder   string
	tsFormat string
	now      func() time.Time
}

// New creates a Stager rooted at folder. The folder is created on first
// write if it does not exist.
func New(folder, tsFormat string) *Stager {
	return &Stager{folder: folder, tsFormat: tsFormat, now: time.Now}
}

// Filename builds the staged file name for one unit of work:
// {prefix}_{identifier}_{timestamp}.parquet, with characters unsafe in
// file names replaced by underscores.
func (s *Stager) Filename(prefix, identifier string) string {
	ts := s.now().UTC().Format(s.tsFormat)
	safe := SanitizeIdentifier(identifier)
	if safe == "" {
		return fmt.Sprintf("%s_%s.parquet", prefix, ts)
	}
	return fmt.Sprintf("%s_%s_%s.parquet", prefix, safe, ts)
}

// SanitizeIdentifier makes an arbitrary unit identifier safe for use in
// a file name.
func SanitizeIdentifier(id string) string {
	safe := unsafeChars.ReplaceAllString(id, "_")
	return strings.Trim(safe, "_")
}

// Folder returns the staging folder path.
func (s *Stager) Folder() string {
	return s.folder
}

// WriteRows stages one batch of rows, returning the path of the file it
// wrote. An empty batch stages nothing and returns an empty path.
func WriteRows[T any](s *Stager, prefix, identifier string, rows []T) (string, error) {
	if len(rows) == 0 {
		logging.Debug("no rows for %s %s, skipping staging", prefix, identifier)
		return "", nil
	}

	if err := os.MkdirAll(s.folder, 0755); err != nil {
		return "", fmt.Errorf("creating staging folder: %w", err)
	}

	path := filepath.Join(s.folder, s.Filename(prefix, identifier))

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return "", fmt.Errorf("creating staging file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(T), 4)
	if err != nil {
		fw.Close()
		os.Remove(path)
		return "", fmt.Errorf("creating parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			pw.WriteStop()
			fw.Close()
			os.Remove(path)
			return "", fmt.Errorf("writing parquet row %d: %w", i, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		os.Remove(path)
		return "", fmt.Errorf("finalizing parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return "", fmt.Errorf("closing staging file: %w", err)
	}

	logging.Debug("staged %d rows to %s", len(rows), path)
	return path, nil
}

// ReadRows loads all rows back from a staged file.
func ReadRows[T any](path string) ([]T, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening staged file: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(T), 4)
	if err != nil {
		return nil, fmt.Errorf("creating parquet reader: %w", err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	rows := make([]T, num)
	if num > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("reading staged rows: %w", err)
		}
	}
	return rows, nil
}
