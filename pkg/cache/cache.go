package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
)

// CompareMode selects how StoreIfChanged decides whether a payload differs
// from the latest stored snapshot in its category.
type CompareMode int

const (
	// CompareBytes compares raw serialized bytes. Suitable for payloads whose
	// field order is stable across fetches.
	CompareBytes CompareMode = iota
	// CompareStructural parses both payloads and compares for deep equality,
	// ignoring key order. Snapshots stored in this mode are canonicalized
	// (sorted keys) on disk.
	CompareStructural
)

// CorruptionError indicates a cache file exists but does not hold valid
// structured data. It is distinct from the file simply not existing, which is
// a normal absent-state signal.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache entry %s: %s", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// FetchFunc retrieves the payload for a content-addressed entry that is not
// yet cached.
type FetchFunc func() ([]byte, error)

// Store is a file-backed snapshot cache. Each category is a subdirectory;
// snapshot file names embed a lexicographically sortable UTC capture key, so
// locating the latest snapshot never depends on filesystem metadata ordering.
//
// A Store assumes a single process has exclusive write access to its
// directory. Concurrent processes sharing a cache directory may race between
// Latest and StoreIfChanged; no locking is provided.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Capture keys must sort in capture order and avoid characters that are
// illegal in file names on some platforms (notably the colon).
const keyTimeLayout = "20060102T150405.000000000Z"

func (s *Store) snapshotName(category string) string {
	return category + "-" + s.now().UTC().Format(keyTimeLayout)
}

// Latest returns the body of the snapshot with the greatest capture key in
// category. ok is false if the category holds no snapshots.
func (s *Store) Latest(category string) (body []byte, ok bool, err error) {
	path, ok, err := s.latestPath(category)
	if err != nil || !ok {
		return nil, false, err
	}
	body, err = os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot: %w", err)
	}
	return body, true, nil
}

func (s *Store) latestPath(category string) (string, bool, error) {
	dir := filepath.Join(s.dir, category)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("list snapshots: %w", err)
	}
	var latest string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), category+"-") {
			continue
		}
		if entry.Name() > latest {
			latest = entry.Name()
		}
	}
	if latest == "" {
		return "", false, nil
	}
	return filepath.Join(dir, latest), true, nil
}

// StoreIfChanged compares body against the latest snapshot in category and,
// if they differ (or no snapshot exists), persists body under a new
// time-ordered key. It reports whether a snapshot was stored; when it returns
// false the store is unmodified.
func (s *Store) StoreIfChanged(category string, body []byte, mode CompareMode) (stored bool, err error) {
	toStore := body
	if mode == CompareStructural {
		toStore, err = Canonicalize(body)
		if err != nil {
			return false, fmt.Errorf("canonicalize %s payload: %w", category, err)
		}
	}

	prevPath, ok, err := s.latestPath(category)
	if err != nil {
		return false, err
	}
	if ok {
		prev, err := os.ReadFile(prevPath)
		if err != nil {
			return false, fmt.Errorf("read snapshot: %w", err)
		}
		same, err := equal(prevPath, prev, body, mode)
		if err != nil {
			return false, err
		}
		if same {
			return false, nil
		}
	}

	path := filepath.Join(s.dir, category, s.snapshotName(category))
	if err := WriteFileAtomic(path, toStore); err != nil {
		return false, err
	}
	return true, nil
}

func equal(prevPath string, prev, body []byte, mode CompareMode) (bool, error) {
	if mode == CompareBytes {
		return bytes.Equal(prev, body), nil
	}
	var prevValue, bodyValue interface{}
	if err := json.Unmarshal(prev, &prevValue); err != nil {
		return false, &CorruptionError{Path: prevPath, Err: err}
	}
	if err := json.Unmarshal(body, &bodyValue); err != nil {
		return false, fmt.Errorf("parse fetched payload: %w", err)
	}
	return reflect.DeepEqual(prevValue, bodyValue), nil
}

// Canonicalize re-serializes a JSON payload with sorted object keys, so that
// later byte comparisons against the stored form remain meaningful.
func Canonicalize(body []byte) ([]byte, error) {
	var value interface{}
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, err
	}
	return json.Marshal(value)
}

// GetOrFetch returns the content-addressed entry for id in category, fetching
// and storing it if absent. Once stored, an entry is immutable: fetch is
// called at most once per id across any number of invocations, and fresh is
// true only on the invocation that fetched.
//
// Entries are bucketed by the first four characters of id into two nested
// directory levels to bound directory fan-out.
func (s *Store) GetOrFetch(category, id string, fetch FetchFunc) (body []byte, fresh bool, err error) {
	if len(id) < 4 {
		return nil, false, fmt.Errorf("entry identifier %q too short", id)
	}
	path := filepath.Join(s.dir, category, id[0:2], id[2:4], SanitizeSegment(id))
	body, err = os.ReadFile(path)
	if err == nil {
		return body, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("read cached entry: %w", err)
	}
	body, err = fetch()
	if err != nil {
		return nil, false, err
	}
	if err := WriteFileAtomic(path, body); err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// SanitizeSegment strips characters from a path segment that are illegal on
// some host filesystems. File contents are never rewritten, only names.
func SanitizeSegment(name string) string {
	return strings.ReplaceAll(name, ":", "")
}

// WriteFileAtomic writes data to path via a temporary file and rename, so a
// reader never observes truncated content under the final name. The final
// path segment is sanitized for cross-platform use.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	final := filepath.Join(dir, SanitizeSegment(filepath.Base(path)))
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("finalize cache entry: %w", err)
	}
	return nil
}
