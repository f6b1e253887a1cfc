// Package ingest feeds text files from a directory into searches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/dispatch"
)

// Searcher runs one search over text.
type Searcher interface {
	Search(ctx context.Context, text string) (*dispatch.Batch, error)
}

// FolderOptions controls folder ingest behavior.
type FolderOptions struct {
	Dir      string
	Watch    bool
	Patterns []string // e.g. []string{"*.txt", "*.log"}
	// TailFromEnd starts *.log files at EOF in watch mode so existing lines
	// are not searched again on every start.
	TailFromEnd bool
	// Debounce delays processing a changed file until it has been quiet
	// this long. Defaults to 500ms.
	Debounce time.Duration
	// OnSearched is called after every search of a file has finished.
	OnSearched func(path string, batch *dispatch.Batch)
	Logger     *zap.Logger
}

// FolderIngestor searches text files from a directory (one-shot or watch mode).
type FolderIngestor struct {
	searcher Searcher
	opts     FolderOptions
	logger   *zap.Logger

	mu      sync.Mutex
	offsets map[string]int64 // per-file tail offset for *.log
	pending map[string]time.Time

	searched int
	errors   int
}

// NewFolderIngestor constructs a folder ingestor.
func NewFolderIngestor(searcher Searcher, opts FolderOptions) *FolderIngestor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.txt", "*.log"}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	return &FolderIngestor{
		searcher: searcher,
		opts:     opts,
		logger:   opts.Logger.Named("ingest"),
		offsets:  make(map[string]int64),
		pending:  make(map[string]time.Time),
	}
}

// Stats returns the number of files searched and failed so far.
func (fi *FolderIngestor) Stats() (searched, failed int) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.searched, fi.errors
}

// Run executes the ingestion per options (one-shot or watch).
func (fi *FolderIngestor) Run(ctx context.Context) error {
	if err := fi.scanOnce(ctx); err != nil {
		return err
	}

	if !fi.opts.Watch {
		searched, failed := fi.Stats()
		fi.logger.Info("completed one-shot ingest", zap.Int("searched", searched), zap.Int("errors", failed))
		return nil
	}

	return fi.watchLoop(ctx)
}

func (fi *FolderIngestor) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range fi.opts.Patterns {
		p := strings.TrimSpace(strings.ToLower(pat))
		if ok, _ := filepath.Match(p, lower); ok {
			return true
		}
	}
	return false
}

func isTail(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".log")
}

func (fi *FolderIngestor) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(fi.opts.Dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !fi.matches(e.Name()) {
			continue
		}
		path := filepath.Join(fi.opts.Dir, e.Name())
		if isTail(e.Name()) && fi.opts.Watch && fi.opts.TailFromEnd {
			if st, err := os.Stat(path); err == nil {
				fi.mu.Lock()
				fi.offsets[path] = st.Size()
				fi.mu.Unlock()
			}
			continue
		}
		fi.process(ctx, path)
	}
	return nil
}

func (fi *FolderIngestor) watchLoop(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer w.Close()

	if err := w.Add(fi.opts.Dir); err != nil {
		return fmt.Errorf("watch add: %w", err)
	}

	fi.logger.Info("watching directory", zap.String("dir", fi.opts.Dir), zap.Strings("patterns", fi.opts.Patterns))
	ticker := time.NewTicker(fi.opts.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			searched, failed := fi.Stats()
			fi.logger.Info("watch stopping", zap.Int("searched", searched), zap.Int("errors", failed))
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !fi.matches(filepath.Base(ev.Name)) {
				continue
			}
			fi.mu.Lock()
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				fi.pending[ev.Name] = time.Now()
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(fi.offsets, ev.Name)
				delete(fi.pending, ev.Name)
			}
			fi.mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fi.logger.Warn("watch error", zap.Error(err))
		case <-ticker.C:
			for _, path := range fi.due(time.Now()) {
				fi.process(ctx, path)
			}
		}
	}
}

// due pops every pending path that has been quiet for the debounce interval.
func (fi *FolderIngestor) due(now time.Time) []string {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	var out []string
	for path, at := range fi.pending {
		if now.Sub(at) >= fi.opts.Debounce {
			out = append(out, path)
			delete(fi.pending, path)
		}
	}
	return out
}

func (fi *FolderIngestor) process(ctx context.Context, path string) {
	text, err := fi.read(path)
	if err != nil {
		fi.logger.Warn("error reading file", zap.String("path", path), zap.Error(err))
		fi.mu.Lock()
		fi.errors++
		fi.mu.Unlock()
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	batch, err := fi.searcher.Search(ctx, text)
	if err != nil {
		fi.logger.Warn("search failed", zap.String("path", path), zap.Error(err))
		fi.mu.Lock()
		fi.errors++
		fi.mu.Unlock()
		return
	}
	batch.Wait()

	fi.mu.Lock()
	fi.searched++
	fi.mu.Unlock()
	fi.logger.Debug("file searched", zap.String("path", path), zap.Int("jobs", batch.Jobs))
	if fi.opts.OnSearched != nil {
		fi.opts.OnSearched(path, batch)
	}
}

// read returns the whole file, or for *.log files only what was appended
// since the last read.
func (fi *FolderIngestor) read(path string) (string, error) {
	if !isTail(path) {
		data, err := os.ReadFile(path)
		return string(data), err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fi.mu.Lock()
	offset := fi.offsets[path]
	fi.mu.Unlock()

	if st, err := f.Stat(); err == nil && st.Size() < offset {
		// truncated or rotated
		offset = 0
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(f)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	fi.mu.Lock()
	fi.offsets[path] = offset + int64(len(data))
	fi.mu.Unlock()
	return string(data), nil
}
