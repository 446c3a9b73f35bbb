// Package guidelines implements the NCCN guidelines collaborator: a YAML
// index of guideline PDFs organized by category, a downloader for the PDFs
// themselves, and page-addressed text extraction. The service type wires
// these into MCP tools and resources.
package guidelines

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is one guideline in the index.
type Entry struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

// Category groups guidelines under a named heading.
type Category struct {
	Name       string  `yaml:"category"`
	Guidelines []Entry `yaml:"guidelines"`
}

// Index is the parsed guidelines index document.
type Index struct {
	Categories []Category `yaml:"nccn_guidelines"`
}

// Counts returns the number of categories and total guidelines.
func (i Index) Counts() (categories, guidelines int) {
	for _, c := range i.Categories {
		guidelines += len(c.Guidelines)
	}
	return len(i.Categories), guidelines
}

// Store caches the index file and its parsed form. Reload swaps both
// atomically; readers always see a consistent raw/parsed pair.
type Store struct {
	path string
	log  *slog.Logger

	mu       sync.RWMutex
	raw      []byte
	index    Index
	loadedAt time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the store's logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore builds a store over the given index file path. The file is not
// read until the first Reload or accessor call.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{path: path, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the index file path.
func (s *Store) Path() string { return s.path }

// staleAfter is the age past which the index is likely out of date with the
// published guidelines set.
const staleAfter = 7 * 24 * time.Hour

// Reload re-reads and re-parses the index file.
func (s *Store) Reload(ctx context.Context) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.WarnContext(ctx, "guidelines.index.read_fail", slog.String("path", s.path), slog.String("err", err.Error()))
		return fmt.Errorf("read guidelines index: %w", err)
	}
	if fi, err := os.Stat(s.path); err == nil {
		if age := time.Since(fi.ModTime()); age > staleAfter {
			s.log.WarnContext(ctx, "guidelines.index.stale",
				slog.String("path", s.path),
				slog.Duration("age", age))
		}
	}
	var idx Index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		s.log.WarnContext(ctx, "guidelines.index.parse_fail", slog.String("path", s.path), slog.String("err", err.Error()))
		return fmt.Errorf("parse guidelines index: %w", err)
	}

	s.mu.Lock()
	s.raw = data
	s.index = idx
	s.loadedAt = time.Now()
	s.mu.Unlock()

	cats, total := idx.Counts()
	s.log.InfoContext(ctx, "guidelines.index.loaded",
		slog.String("path", s.path),
		slog.Int("categories", cats),
		slog.Int("guidelines", total))
	return nil
}

// ensureLoaded lazily loads the index on first access.
func (s *Store) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := !s.loadedAt.IsZero()
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	return s.Reload(ctx)
}

// Raw returns the raw YAML bytes of the index file.
func (s *Store) Raw(ctx context.Context) ([]byte, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.raw...), nil
}

// Index returns the parsed index.
func (s *Store) Index(ctx context.Context) (Index, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return Index{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index, nil
}

// Digest renders the index as a readable plain-text listing: every category
// with its guideline titles and URLs.
func (s *Store) Digest(ctx context.Context) (string, error) {
	idx, err := s.Index(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("NCCN Guidelines Index\n")
	b.WriteString(strings.Repeat("=", 20) + "\n\n")
	for _, cat := range idx.Categories {
		name := cat.Name
		if name == "" {
			name = "Unknown Category"
		}
		fmt.Fprintf(&b, "Category: %s\n", name)
		b.WriteString(strings.Repeat("-", len(name)+10) + "\n")
		for _, g := range cat.Guidelines {
			title := g.Title
			if title == "" {
				title = "Unknown Title"
			}
			url := g.URL
			if url == "" {
				url = "No URL"
			}
			fmt.Fprintf(&b, "  * %s\n    URL: %s\n", title, url)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
