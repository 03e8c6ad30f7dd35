// Package statestore persists per-engine JSON state documents shared by
// concurrent, short-lived check processes. Writes are serialized by a
// sibling lock marker and made atomic with a same-directory rename;
// reads never fail, degrading to schema defaults on any problem.
package statestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Document is a state document owned by one engine. Reset restores
// schema defaults; DecodeFiltered deserializes only the allow-listed
// fields so untrusted on-disk content cannot smuggle extra structure
// into the consuming engine.
type Document interface {
	Reset()
	DecodeFiltered(data []byte) error
	// Schema returns the JSON Schema the raw document must satisfy
	// before DecodeFiltered runs. Nil skips validation.
	Schema() []byte
}

type cacheEntry struct {
	data     []byte
	loadedAt time.Time
}

// Store reads and writes named documents under a single state
// directory. Directory, clock and liveness probe are injected; there is
// no package-level mutable state.
type Store struct {
	dir         string
	now         func() time.Time
	probe       ProcessProbe
	lockTimeout time.Duration
	cacheTTL    time.Duration
	logger      *slog.Logger

	onLockWait    func(time.Duration)
	onLockTimeout func()

	mu      sync.Mutex
	cache   map[string]cacheEntry
	schemas map[string]*jsonschema.Schema
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithProbe injects the process-liveness probe used for stale-lock
// reclamation.
func WithProbe(probe ProcessProbe) Option {
	return func(s *Store) { s.probe = probe }
}

// WithLockTimeout bounds the total blocking wait for the write lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithCacheTTL enables the short-lived read cache. Zero disables it.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Store) { s.cacheTTL = d }
}

// WithLogger injects the logger for degraded-read and lock diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithLockObserver registers callbacks invoked after every lock
// acquisition attempt: onWait with the time spent waiting, onTimeout
// when the wait budget was exceeded. Used to feed metrics.
func WithLockObserver(onWait func(time.Duration), onTimeout func()) Option {
	return func(s *Store) {
		s.onLockWait = onWait
		s.onLockTimeout = onTimeout
	}
}

// New creates a Store rooted at dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:         dir,
		now:         time.Now,
		probe:       SystemProbe{},
		lockTimeout: 2 * time.Second,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		cache:       make(map[string]cacheEntry),
		schemas:     make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// Load fills doc from the named document. It never fails: a missing,
// corrupt, or schema-violating file leaves doc at its defaults.
func (s *Store) Load(name string, doc Document) {
	doc.Reset()
	data, ok := s.cachedRead(name)
	if !ok {
		var err error
		data, err = os.ReadFile(s.path(name))
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("state read failed, using defaults", "doc", name, "err", err)
			}
			return
		}
		s.storeCache(name, data)
	}
	s.decodeInto(name, data, doc)
}

// Save writes doc under the exclusive lock. The lock is released in a
// cleanup path even when the write fails.
func (s *Store) Save(name string, doc Document) error {
	lock, err := s.acquireLock(name)
	if err != nil {
		return err
	}
	defer lock.Release()
	return s.writeLocked(name, doc)
}

// Mutate runs a read-modify-write cycle entirely under the lock: the
// freshest on-disk state is decoded into doc, fn mutates it, and the
// result is written back. Racing mutators serialize on the lock, so no
// increment is ever lost.
func (s *Store) Mutate(name string, doc Document, fn func() error) error {
	lock, err := s.acquireLock(name)
	if err != nil {
		return err
	}
	defer lock.Release()

	doc.Reset()
	data, err := os.ReadFile(s.path(name))
	if err == nil {
		s.decodeInto(name, data, doc)
	} else if !os.IsNotExist(err) {
		s.logger.Warn("state read failed, mutating from defaults", "doc", name, "err", err)
	}

	if err := fn(); err != nil {
		return err
	}
	return s.writeLocked(name, doc)
}

// Reset atomically replaces the named document with doc's defaults.
func (s *Store) Reset(name string, doc Document) error {
	return s.Mutate(name, doc, func() error {
		doc.Reset()
		return nil
	})
}

// acquireLock takes the named document's write lock, creating the
// state directory first so the marker has somewhere to live on the
// very first run.
func (s *Store) acquireLock(name string) (*FileLock, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	lock := NewFileLock(s.lockPath(name), s.probe, s.now)
	start := time.Now()
	err := lock.Acquire(s.lockTimeout)
	if s.onLockWait != nil {
		s.onLockWait(time.Since(start))
	}
	if err != nil {
		if err == ErrLockTimeout && s.onLockTimeout != nil {
			s.onLockTimeout()
		}
		return nil, err
	}
	return lock, nil
}

// writeLocked writes doc to a temp file in the state directory and
// renames it over the target. Same-filesystem rename is assumed atomic.
func (s *Store) writeLocked(name string, doc Document) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	data = append(data, '\n')

	tmpPath := filepath.Join(s.dir, fmt.Sprintf(".tmp-%s-%s", name, uuid.NewString()))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	success = true
	s.invalidate(name)
	return nil
}

// decodeInto validates raw bytes against the document schema and then
// runs the allow-list decode. Any failure leaves doc at defaults.
func (s *Store) decodeInto(name string, data []byte, doc Document) {
	if schemaSrc := doc.Schema(); schemaSrc != nil {
		sch, err := s.compiledSchema(name, schemaSrc)
		if err != nil {
			s.logger.Warn("state schema unavailable, skipping validation", "doc", name, "err", err)
		} else {
			inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				s.logger.Warn("state document not valid JSON, using defaults", "doc", name, "err", err)
				doc.Reset()
				return
			}
			if err := sch.Validate(inst); err != nil {
				s.logger.Warn("state document failed schema validation, using defaults", "doc", name, "err", err)
				doc.Reset()
				return
			}
		}
	}
	if err := doc.DecodeFiltered(data); err != nil {
		s.logger.Warn("state decode failed, using defaults", "doc", name, "err", err)
		doc.Reset()
	}
}

func (s *Store) compiledSchema(name string, src []byte) (*jsonschema.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sch, ok := s.schemas[name]; ok {
		return sch, nil
	}
	docSchema, err := jsonschema.UnmarshalJSON(strings.NewReader(string(src)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, docSchema); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	s.schemas[name] = sch
	return sch, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *Store) lockPath(name string) string {
	return filepath.Join(s.dir, name+".json.lock")
}

func (s *Store) cachedRead(name string) ([]byte, bool) {
	if s.cacheTTL <= 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[name]
	if !ok || s.now().Sub(entry.loadedAt) > s.cacheTTL {
		return nil, false
	}
	return entry.data, true
}

func (s *Store) storeCache(name string, data []byte) {
	if s.cacheTTL <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[name] = cacheEntry{data: data, loadedAt: s.now()}
}

// invalidate drops the cache entry after a local write so this process
// never serves its own stale pre-write snapshot.
func (s *Store) invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, name)
}
