// Package cache keeps compiled chunks in a SQLite database keyed by the
// hash of their source, so unchanged files skip the compiler on reload.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/parens/vm"
)

var log = commonlog.GetLogger("parens.cache")

// Store is a compiled-chunk cache backed by one SQLite file.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex

	hits   int
	misses int
}

// Stats reports cache effectiveness since Open.
type Stats struct {
	Hits    int
	Misses  int
	Entries int
}

// Open opens (creating if needed) the cache database at path. The path
// ":memory:" gives a private in-memory cache.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		hash TEXT PRIMARY KEY,
		image BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Key returns the cache key for source: the hex SHA-256 of its bytes.
func Key(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Get returns the chunks cached for source. The boolean is false on a miss.
func (s *Store) Get(source string) ([]*vm.Chunk, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var image []byte
	err := s.db.QueryRow("SELECT image FROM chunks WHERE hash = ?", Key(source)).Scan(&image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.misses++
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying cache: %w", err)
	}

	chunks, err := vm.UnmarshalImage(image)
	if err != nil {
		// A stale or corrupt entry is a miss; the next Put replaces it.
		log.Warningf("discarding unreadable cache entry: %s", err)
		s.misses++
		return nil, false, nil
	}
	s.hits++
	return chunks, true, nil
}

// Put stores the compiled chunks for source, replacing any earlier entry.
func (s *Store) Put(source string, chunks []*vm.Chunk) error {
	image, err := vm.MarshalImage(chunks)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO chunks (hash, image, created_at) VALUES (?, ?, ?)",
		Key(source), image, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving cache entry: %w", err)
	}
	return nil
}

// Purge deletes every entry.
func (s *Store) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM chunks"); err != nil {
		return fmt.Errorf("purging cache: %w", err)
	}
	return nil
}

// Stats returns hit and miss counts and the number of stored entries.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Hits: s.hits, Misses: s.misses}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&st.Entries); err != nil {
		return st, fmt.Errorf("counting cache entries: %w", err)
	}
	return st, nil
}

// Wrap returns a compile function that consults the cache before calling
// compile and stores every successful result. Cache failures are logged
// and never fail a compile.
func (s *Store) Wrap(compile vm.CompileFunc) vm.CompileFunc {
	return func(source string) ([]*vm.Chunk, error) {
		chunks, ok, err := s.Get(source)
		if err != nil {
			log.Warningf("cache lookup failed: %s", err)
		}
		if ok {
			return chunks, nil
		}

		chunks, err = compile(source)
		if err != nil {
			return nil, err
		}
		if err := s.Put(source, chunks); err != nil {
			log.Warningf("cache store failed: %s", err)
		}
		return chunks, nil
	}
}
