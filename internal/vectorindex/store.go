package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndexStore = (*Store)(nil)

const (
	currentFile   = "CURRENT"
	stagingPrefix = ".staging-"
	versionPrefix = "v"
)

// StoreConfig holds Store configuration
type StoreConfig struct {
	// Root is the directory holding one subdirectory per index name
	Root string

	// Lock serialises publishes across processes sharing Root (optional)
	Lock driven.DistributedLock

	// LockTTL bounds how long a crashed publisher can hold the lock
	LockTTL time.Duration

	// LockRetry is the poll interval while another process publishes
	LockRetry time.Duration

	Logger *slog.Logger
}

// Store owns the published versions of every named index.
//
// Layout under Root:
//
//	<name>/CURRENT         version directory name of the published version
//	<name>/v000003/        vectors.bin + metadata.json
//	<name>/.staging-*/     in-progress build, renamed into place when complete
type Store struct {
	root      string
	lock      driven.DistributedLock
	lockTTL   time.Duration
	lockRetry time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	writers   map[string]*sync.Mutex
	published map[string]*atomic.Pointer[Index]
}

// NewStore creates the root directory if needed and returns an empty store.
// Call Open or OpenAll to publish versions already on disk.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("%w: index root is required", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create index root: %w", err)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		root:      cfg.Root,
		lock:      cfg.Lock,
		lockTTL:   cfg.LockTTL,
		lockRetry: cfg.LockRetry,
		logger:    cfg.Logger,
		writers:   make(map[string]*sync.Mutex),
		published: make(map[string]*atomic.Pointer[Index]),
	}, nil
}

// Current returns the published version of name, or nil. A newer version
// recorded on disk by another process is loaded and swapped in first; if
// it cannot be loaded the version already held keeps serving.
func (s *Store) Current(name string) *Index {
	p := s.pointer(name)
	mem := p.Load()
	if validateName(name) != nil {
		return mem
	}

	onDisk, err := readCurrent(s.nameDir(name))
	if err != nil {
		s.logger.Warn("failed to read published version", "index", name, "error", err)
		return mem
	}
	if onDisk == 0 || (mem != nil && mem.version >= onDisk) {
		return mem
	}

	ix, err := s.loadVersion(name, onDisk)
	if err != nil {
		s.logger.Warn("failed to reload index", "index", name, "version", onDisk, "error", err)
		return mem
	}
	if !p.CompareAndSwap(mem, ix) {
		return p.Load()
	}
	s.logger.Info("index reloaded", "index", name, "version", ix.version, "entries", ix.Len())
	return ix
}

// Info describes the published version of name, or nil.
func (s *Store) Info(name string) *domain.IndexInfo {
	ix := s.Current(name)
	if ix == nil {
		return nil
	}
	return ix.Info()
}

// Query searches the published version of name.
func (s *Store) Query(name string, embedding []float32, k int) ([]domain.ScoredChunk, error) {
	ix := s.Current(name)
	if ix == nil {
		return nil, fmt.Errorf("%w: no index published as %q", domain.ErrRetrieverUnavailable, name)
	}
	return ix.Query(embedding, k)
}

// Build embeds chunks and publishes them as a new version of name,
// replacing the previous version wholesale.
func (s *Store) Build(ctx context.Context, name string, chunks []domain.Chunk, embed driven.EmbedFunc) (*domain.IndexInfo, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", domain.ErrInvalidInput)
	}
	for i, c := range chunks {
		if c.ID != i {
			return nil, fmt.Errorf("%w: chunk %d has id %d, ids must be 0..n-1", domain.ErrInvalidInput, i, c.ID)
		}
	}

	vectors, err := embedAll(ctx, embed, chunks)
	if err != nil {
		return nil, err
	}
	next, err := New(chunks, vectors)
	if err != nil {
		return nil, err
	}

	return s.publish(ctx, name, func(*Index) (*Index, error) {
		return next, nil
	})
}

// Append publishes a new version of name holding the current entries
// followed by chunks. Existing vectors are reused; new chunk ids continue
// from the current count.
func (s *Store) Append(ctx context.Context, name string, chunks []domain.Chunk, embed driven.EmbedFunc) (*domain.IndexInfo, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", domain.ErrInvalidInput)
	}

	return s.publish(ctx, name, func(current *Index) (*Index, error) {
		offset := 0
		if current != nil {
			offset = current.Len()
		}
		renumbered := make([]domain.Chunk, len(chunks))
		for i, c := range chunks {
			renumbered[i] = domain.Chunk{ID: offset + i, Text: c.Text}
		}

		vectors, err := embedAll(ctx, embed, renumbered)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return New(renumbered, vectors)
		}
		return New(append(current.Chunks(), renumbered...), append(append([][]float32(nil), current.vectors...), vectors...))
	})
}

// Open loads the version of name recorded on disk and publishes it.
// Returns domain.ErrNotFound if name has never been built.
func (s *Store) Open(ctx context.Context, name string) (*domain.IndexInfo, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	ix, err := s.loadCurrent(name)
	if err != nil {
		return nil, err
	}
	if ix == nil {
		return nil, fmt.Errorf("index %q: %w", name, domain.ErrNotFound)
	}
	s.pointer(name).Store(ix)
	s.logger.Info("index opened", "index", name, "version", ix.version, "entries", ix.Len(), "dim", ix.dim)
	return ix.Info(), nil
}

// OpenAll opens every index under the root. Indexes that fail to load
// are logged and skipped.
func (s *Store) OpenAll(ctx context.Context) ([]*domain.IndexInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read index root: %w", err)
	}
	var infos []*domain.IndexInfo
	for _, e := range entries {
		if !e.IsDir() || validateName(e.Name()) != nil {
			continue
		}
		info, err := s.Open(ctx, e.Name())
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.logger.Error("failed to open index", "index", e.Name(), "error", err)
			}
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// publish runs build against the latest version of name inside the
// per-name critical section, persists the result and swaps it in.
func (s *Store) publish(ctx context.Context, name string, build func(current *Index) (*Index, error)) (*domain.IndexInfo, error) {
	unlock, err := s.lockName(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.latest(name)
	if err != nil {
		return nil, err
	}
	next, err := build(current)
	if err != nil {
		return nil, err
	}

	version := 1
	if current != nil {
		version = current.version + 1
	}
	dir, err := s.persist(name, version, next)
	if err != nil {
		return nil, err
	}

	next.name = name
	next.version = version
	next.path = dir
	s.pointer(name).Store(next)
	s.prune(name, version)

	s.logger.Info("index published", "index", name, "version", version, "entries", next.Len(), "dim", next.dim)
	return next.Info(), nil
}

// latest returns the newest version of name, preferring the in-memory copy
// when it matches what is recorded on disk.
func (s *Store) latest(name string) (*Index, error) {
	onDisk, err := readCurrent(s.nameDir(name))
	if err != nil {
		return nil, err
	}
	mem := s.pointer(name).Load()
	if onDisk == 0 {
		return mem, nil
	}
	if mem != nil && mem.version == onDisk {
		return mem, nil
	}
	return s.loadCurrent(name)
}

func (s *Store) loadCurrent(name string) (*Index, error) {
	version, err := readCurrent(s.nameDir(name))
	if err != nil || version == 0 {
		return nil, err
	}
	return s.loadVersion(name, version)
}

func (s *Store) loadVersion(name string, version int) (*Index, error) {
	ix, err := Load(filepath.Join(s.nameDir(name), versionDir(version)))
	if err != nil {
		return nil, fmt.Errorf("index %q version %d: %w", name, version, err)
	}
	ix.name = name
	ix.version = version
	return ix, nil
}

// persist stages both artifacts and atomically moves them into place.
func (s *Store) persist(name string, version int, ix *Index) (string, error) {
	nameDir := s.nameDir(name)
	if err := os.MkdirAll(nameDir, 0o755); err != nil {
		return "", fmt.Errorf("create index dir: %w", err)
	}

	staging, err := os.MkdirTemp(nameDir, stagingPrefix)
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := writeArtifacts(staging, ix); err != nil {
		return "", err
	}

	final := filepath.Join(nameDir, versionDir(version))
	_ = os.RemoveAll(final)
	if err := os.Rename(staging, final); err != nil {
		return "", fmt.Errorf("publish version dir: %w", err)
	}
	committed = true

	if err := writeCurrent(nameDir, version); err != nil {
		_ = os.RemoveAll(final)
		return "", err
	}
	return final, nil
}

// prune removes versions older than keep-1 and abandoned staging
// directories. The version just superseded stays on disk so a process that
// read CURRENT before the swap can still load it.
func (s *Store) prune(name string, keep int) {
	nameDir := s.nameDir(name)
	entries, err := os.ReadDir(nameDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == versionDir(keep) || e.Name() == versionDir(keep-1) {
			continue
		}
		if strings.HasPrefix(e.Name(), versionPrefix) || strings.HasPrefix(e.Name(), stagingPrefix) {
			if err := os.RemoveAll(filepath.Join(nameDir, e.Name())); err != nil {
				s.logger.Warn("failed to prune index version", "index", name, "dir", e.Name(), "error", err)
			}
		}
	}
}

// lockName enters the exclusive publish section for name.
func (s *Store) lockName(ctx context.Context, name string) (func(), error) {
	s.mu.Lock()
	mu, ok := s.writers[name]
	if !ok {
		mu = &sync.Mutex{}
		s.writers[name] = mu
	}
	s.mu.Unlock()

	mu.Lock()
	if s.lock == nil {
		return mu.Unlock, nil
	}

	key := "index:" + name
	for {
		acquired, err := s.lock.Acquire(ctx, key, s.lockTTL)
		if err != nil {
			mu.Unlock()
			return nil, fmt.Errorf("acquire index lock: %w", err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			mu.Unlock()
			return nil, ctx.Err()
		case <-time.After(s.lockRetry):
		}
	}

	return func() {
		if err := s.lock.Release(context.Background(), key); err != nil {
			s.logger.Warn("failed to release index lock", "index", name, "error", err)
		}
		mu.Unlock()
	}, nil
}

func (s *Store) pointer(name string) *atomic.Pointer[Index] {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.published[name]
	if !ok {
		p = &atomic.Pointer[Index]{}
		s.published[name] = p
	}
	return p
}

func (s *Store) nameDir(name string) string {
	return filepath.Join(s.root, name)
}

func validateName(name string) error {
	return domain.ValidateIndexName(name)
}

func versionDir(version int) string {
	return fmt.Sprintf("%s%06d", versionPrefix, version)
}

// readCurrent returns the published version recorded for nameDir, or 0.
func readCurrent(nameDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(nameDir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", domain.ErrIndexCorrupt, currentFile, err)
	}
	v := strings.TrimPrefix(strings.TrimSpace(string(data)), versionPrefix)
	version, err := strconv.Atoi(v)
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("%w: bad %s %q", domain.ErrIndexCorrupt, currentFile, strings.TrimSpace(string(data)))
	}
	return version, nil
}

// writeCurrent replaces the CURRENT pointer with a tmp file + rename.
func writeCurrent(nameDir string, version int) error {
	tmp := filepath.Join(nameDir, currentFile+".tmp")
	if err := os.WriteFile(tmp, []byte(versionDir(version)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", currentFile, err)
	}
	if err := os.Rename(tmp, filepath.Join(nameDir, currentFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish %s: %w", currentFile, err)
	}
	return nil
}

// embedAll embeds chunk texts and checks the collaborator returned one
// vector per text.
func embedAll(ctx context.Context, embed driven.EmbedFunc, chunks []domain.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", domain.ErrDimensionMismatch, len(vectors), len(texts))
	}
	return vectors, nil
}
