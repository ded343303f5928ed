// Package filestore is the sole authority for the on-disk conversation
// layout: atomic JSON read/write, per-path write serialization, checksums
// and backups. Modeled on the teacher's credential/episodic stores but
// reworked onto plain files instead of Postgres, per spec §4.1.
package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is available to callers that want to distinguish "missing" from
// other IO failures; no function in this package returns it, and ReadJSON
// itself returns (false, nil) on not-found per spec.
var ErrNotFound = errors.New("filestore: not found")

// Conversation directory layout, relative to a conversation root.
const (
	DirSession   = "session"
	DirSummaries = "summaries"
	DirKnowledge = "knowledge"
	DirContext   = "context"
	DirArchives  = "archives"
	DirEvents    = "events"
	DirCommits   = "commits"
	DirWAL       = "wal"
)

// Options configures a Store instance.
type Options struct {
	// BackupOnWrite, when true, copies an existing file to
	// path.backup.<epoch_ms> before overwriting it.
	BackupOnWrite bool
	// Pretty controls JSON indentation (2-space indent in development).
	Pretty bool
	// Now is overridable for deterministic tests.
	Now func() time.Time
}

// Store is the filesystem-backed persistence primitive used by every other
// component. One Store instance is scoped to a single conversation root.
type Store struct {
	root   string
	opts   Options
	logger *zap.SugaredLogger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// New creates a Store rooted at base/conversationID.
func New(base, conversationID string, opts Options, logger *zap.SugaredLogger) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		root:     filepath.Join(base, conversationID),
		opts:     opts,
		logger:   logger,
		inflight: make(map[string]chan struct{}),
	}
}

// Root returns the conversation root directory.
func (s *Store) Root() string { return s.root }

// Path joins the conversation root with the given relative segments.
func (s *Store) Path(segments ...string) string {
	parts := append([]string{s.root}, segments...)
	return filepath.Join(parts...)
}

// acquire serializes writes to the same path FIFO: the caller blocks until
// any in-flight write to that exact path has finished, then registers
// itself as the new in-flight write.
func (s *Store) acquire(path string) func() {
	s.mu.Lock()
	prev, busy := s.inflight[path]
	done := make(chan struct{})
	s.inflight[path] = done
	s.mu.Unlock()

	if busy {
		<-prev
	}
	return func() {
		close(done)
		s.mu.Lock()
		if s.inflight[path] == done {
			delete(s.inflight, path)
		}
		s.mu.Unlock()
	}
}

// WriteJSON atomically writes data as JSON to path: write path.tmp, fsync,
// then rename over path. Parent directories are created as needed. If
// BackupOnWrite is set and path already exists, it is copied aside first.
func (s *Store) WriteJSON(path string, data any) error {
	release := s.acquire(path)
	defer release()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("filestore: create parent dir for %s: %w", path, err)
	}

	if s.opts.BackupOnWrite {
		if _, err := os.Stat(path); err == nil {
			backupPath := fmt.Sprintf("%s.backup.%d", path, s.opts.Now().UnixMilli())
			if cpErr := copyFile(path, backupPath); cpErr != nil {
				s.logger.Warnw("filestore: backup-on-write failed", "path", path, "error", cpErr)
			}
		}
	}

	payload, err := CanonicalJSON(data, s.opts.Pretty)
	if err != nil {
		return fmt.Errorf("filestore: marshal %s: %w", path, err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: open tmp for %s: %w", path, err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return fmt.Errorf("filestore: write tmp for %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("filestore: sync tmp for %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("filestore: close tmp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("filestore: rename tmp over %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads and unmarshals path into v. It returns (false, nil) if the
// file does not exist, and wraps any other read/parse failure as an error.
func (s *Store) ReadJSON(path string, v any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("filestore: invalid json in %s: %w", path, err)
	}
	return true, nil
}

// ReadRaw reads the raw bytes of path, or (nil, false, nil) on not-found.
func (s *Store) ReadRaw(path string) ([]byte, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	return raw, true, nil
}

// Exists reports whether path exists on disk.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes path if it exists; a missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: remove %s: %w", path, err)
	}
	return nil
}

// ListDir returns the base names of files directly under dir, sorted, or
// nil if dir does not exist.
func (s *Store) ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: readdir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// CanonicalJSON serializes v deterministically: every object's keys are
// sorted (struct fields included, since v is round-tripped through
// map[string]any first), with every string leaf NFC-normalized so checksums are stable across Unicode-equivalent
// inputs (combining-mark variants, etc.) — see SPEC_FULL.md's domain-stack
// entry for golang.org/x/text/unicode/norm.
func CanonicalJSON(v any, pretty bool) ([]byte, error) {
	normalized, err := normalizeValue(v)
	if err != nil {
		return nil, err
	}
	if pretty {
		return json.MarshalIndent(normalized, "", "  ")
	}
	return json.Marshal(normalized)
}

// normalizeValue round-trips v through JSON so map keys sort stably and
// every string leaf gets NFC-normalized, then returns the plain value tree.
func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return normalizeTree(generic), nil
}

func normalizeTree(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalizeTree(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeTree(val)
		}
		return out
	default:
		return v
	}
}

// Checksum returns the hex-lowercase SHA-256 of v's canonical JSON
// serialization (compact, not pretty — checksums must not depend on
// formatting mode).
func Checksum(v any) (string, error) {
	payload, err := CanonicalJSON(v, false)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// ChecksumBytes hashes raw bytes directly (used by the commit Validator's
// Checksums for the snapshot/global hash over already-canonical bytes with
// the checksum field stripped, rather than a decoded value).
func ChecksumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// StripField removes a named top-level field from a JSON object's raw bytes
// before rehashing it — used to validate a self-describing `checksum` field
// that was computed over the document with itself absent (spec §4.9).
func StripField(raw []byte, field string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, field)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(m[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EnsureDirs creates the standard conversation subdirectories.
func (s *Store) EnsureDirs() error {
	dirs := []string{DirSession, DirSummaries, DirKnowledge, DirContext, DirArchives, DirEvents, DirCommits, DirWAL}
	for _, d := range dirs {
		if err := os.MkdirAll(s.Path(d), 0o755); err != nil {
			return fmt.Errorf("filestore: ensure dir %s: %w", d, err)
		}
	}
	return nil
}

// ParseEpochFromName extracts the largest numeric token of at least 10
// digits from a filename like "snapshot-commit-1700000000000-ab12cd34.json",
// used by Store.ListSnapshots to order snapshots newest first by embedded
// timestamp rather than mtime alone. Shorter numeric tokens are ignored.
func ParseEpochFromName(name string) (int64, bool) {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_'
	})
	var best int64
	found := false
	for _, f := range fields {
		if len(f) < 10 {
			continue
		}
		var n int64
		_, err := fmt.Sscanf(f, "%d", &n)
		if err == nil && n > best {
			best = n
			found = true
		}
	}
	return best, found
}
