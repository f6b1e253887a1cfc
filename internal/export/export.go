// Package export renders result records as CSV and hands the file to a saver.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Ashfaaq98/ioc-console/internal/results"
)

// Header is the first CSV row.
var Header = []string{"server-id", "local-id", "value", "from", "matched", "info"}

// Filename returns the export file name for t, e.g. results-2024-3-7.csv.
func Filename(t time.Time) string {
	return fmt.Sprintf("results-%d-%d-%d.csv", t.Year(), int(t.Month()), t.Day())
}

// CSV renders records, one row each, after the header. Commas inside info are
// replaced with " - "; zero numbers render as empty cells.
func CSV(records []results.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, err
	}
	for _, r := range records {
		row := []string{
			r.Link,
			r.ID,
			r.Value,
			r.From,
			formatMatched(r.Matched),
			strings.ReplaceAll(r.Info, ",", " - "),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("writing csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatMatched(m float64) string {
	if m == 0 {
		return ""
	}
	return strconv.FormatFloat(m, 'f', -1, 64)
}

// Saver performs a user-directed save. ok is false when the user declined to
// choose a destination.
type Saver interface {
	Save(ctx context.Context, filename string, content []byte) (path string, ok bool, err error)
}

// FileSaver writes into Dir. An empty Dir means the save was cancelled.
type FileSaver struct {
	Dir string
}

// Save writes content to Dir/filename.
func (f FileSaver) Save(_ context.Context, filename string, content []byte) (string, bool, error) {
	if strings.TrimSpace(f.Dir) == "" {
		return "", false, nil
	}
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return "", false, fmt.Errorf("failed to create export directory %s: %w", f.Dir, err)
	}
	path := filepath.Join(f.Dir, filename)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return abs, true, nil
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, filename string, content []byte) (string, bool, error)

// Save calls f.
func (f SaverFunc) Save(ctx context.Context, filename string, content []byte) (string, bool, error) {
	return f(ctx, filename, content)
}
