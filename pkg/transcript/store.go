// Package transcript persists completed conversation text, one JSON file
// per URL. Filenames are derived from the normalized URL so lookups never
// need an index, and writes go through a temp file rename so a crash never
// leaves a half-written transcript.
package transcript

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bitop-dev/sidechat/pkg/session"
)

// Record is the on-disk shape of one transcript.
type Record struct {
	URL          string    `json:"url"`
	Result       string    `json:"result"`
	FinishReason string    `json:"finish_reason,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store keeps one transcript per URL under a directory. Safe for
// concurrent use.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates the directory if needed and returns a store over it.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("transcript: empty dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store writes under.
func (s *Store) Dir() string { return s.dir }

// Save writes (or replaces) the transcript for url.
func (s *Store) Save(url string, rec Record) error {
	rec.URL = session.NormalizeURL(url)
	if rec.URL == "" {
		return fmt.Errorf("transcript: empty url")
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("transcript: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(rec.URL)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("transcript: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("transcript: rename %s: %w", path, err)
	}
	return nil
}

// Load reads the transcript for url. The second return is false when no
// transcript exists.
func (s *Store) Load(url string) (Record, bool, error) {
	s.mu.Lock()
	path := s.path(session.NormalizeURL(url))
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("transcript: read %s: %w", path, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("transcript: parse %s: %w", path, err)
	}
	return rec, true, nil
}

// Delete removes the transcript for url. Deleting a missing transcript is
// not an error.
func (s *Store) Delete(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.path(session.NormalizeURL(url))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("transcript: delete %s: %w", path, err)
	}
	return nil
}

// List returns the URLs of every stored transcript.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("transcript: list: %w", err)
	}
	var urls []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if json.Unmarshal(data, &rec) == nil && rec.URL != "" {
			urls = append(urls, rec.URL)
		}
	}
	return urls, nil
}

func (s *Store) path(normURL string) string {
	sum := sha1.Sum([]byte(normURL))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}
