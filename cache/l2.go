package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tliron/commonlog"

	"github.com/chazu/tarn/durability"
	"github.com/chazu/tarn/hash"
)

// ---------------------------------------------------------------------------
// ContentStore: the content-addressed second tier
// ---------------------------------------------------------------------------

// ErrEntryNotFound indicates the requested digest is not in the store.
var ErrEntryNotFound = errors.New("cache: entry not found")

// Entry is one stored result, keyed by the structural digest of the
// computation that produced it.
type Entry struct {
	Digest    hash.Digest
	Tier      durability.Tier
	Payload   []byte
	RunID     string
	CreatedAt time.Time
}

// ContentStore persists serialized results in sqlite, keyed by digest.
// Entries carry the durability tier and the writer's run ID so readers
// can decide whether a stored result is still trustworthy: HIGH entries
// are always valid, MEDIUM entries only within the run that wrote them
// (unless the store is marked shared), and LOW entries are never stored
// at all.
type ContentStore struct {
	db     *sql.DB
	path   string
	runID  string
	shared bool
	stats  *Stats
	log    commonlog.Logger
}

// formatVersion guards the payload encoding. Entries written under a
// different version are treated as misses.
const storeFormatVersion = 1

// OpenContentStore opens (creating if needed) the sqlite store at path.
// runID identifies the current process run; shared permits reuse of
// MEDIUM entries written by other runs.
func OpenContentStore(path, runID string, shared bool, stats *Stats) (*ContentStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening store: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: enabling WAL: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		digest BLOB PRIMARY KEY,
		durability INTEGER NOT NULL,
		format_version INTEGER NOT NULL,
		payload BLOB NOT NULL,
		checksum INTEGER NOT NULL,
		run_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating table: %w", err)
	}

	return &ContentStore{
		db:     db,
		path:   path,
		runID:  runID,
		shared: shared,
		stats:  stats,
		log:    commonlog.GetLogger("cache.store"),
	}, nil
}

// Close closes the underlying database.
func (s *ContentStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path.
func (s *ContentStore) Path() string {
	return s.path
}

// Put stores payload under digest. LOW durability results must never
// reach the store; that is a caller bug.
func (s *ContentStore) Put(digest hash.Digest, tier durability.Tier, payload []byte) error {
	if tier == durability.Low {
		panic("cache: LOW durability result must not be persisted")
	}
	sum := crc32.ChecksumIEEE(payload)
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO entries
		 (digest, durability, format_version, payload, checksum, run_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		digest[:], int(tier), storeFormatVersion, payload, int64(sum), s.runID,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache: storing entry: %w", err)
	}
	s.stats.L2Writes.Add(1)
	return nil
}

// Get retrieves the entry for digest. A corrupt entry (checksum or
// format mismatch) is deleted and reported as a miss. A MEDIUM entry
// written by another run is a miss unless the store is shared.
func (s *ContentStore) Get(digest hash.Digest) (*Entry, error) {
	var (
		tierN    int
		version  int
		payload  []byte
		checksum int64
		runID    string
		created  int64
	)
	err := s.db.QueryRow(
		`SELECT durability, format_version, payload, checksum, run_id, created_at
		 FROM entries WHERE digest = ?`, digest[:],
	).Scan(&tierN, &version, &payload, &checksum, &runID, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.stats.L2Misses.Add(1)
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("cache: querying entry: %w", err)
	}

	if version != storeFormatVersion || crc32.ChecksumIEEE(payload) != uint32(checksum) {
		s.log.Errorf("corrupt entry %s, deleting", digest.Hex())
		s.stats.L2Corrupt.Add(1)
		s.stats.L2Misses.Add(1)
		if err := s.Delete(digest); err != nil {
			return nil, err
		}
		return nil, ErrEntryNotFound
	}

	tier := durability.Tier(tierN)
	if tier == durability.Medium && runID != s.runID && !s.shared {
		s.stats.L2Misses.Add(1)
		return nil, ErrEntryNotFound
	}

	s.stats.L2Hits.Add(1)
	return &Entry{
		Digest:    digest,
		Tier:      tier,
		Payload:   payload,
		RunID:     runID,
		CreatedAt: time.Unix(created, 0),
	}, nil
}

// Delete removes the entry for digest if present.
func (s *ContentStore) Delete(digest hash.Digest) error {
	if _, err := s.db.Exec("DELETE FROM entries WHERE digest = ?", digest[:]); err != nil {
		return fmt.Errorf("cache: deleting entry: %w", err)
	}
	return nil
}

// Count returns the number of stored entries.
func (s *ContentStore) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: counting entries: %w", err)
	}
	return n, nil
}

// TotalBytes returns the total payload size of stored entries.
func (s *ContentStore) TotalBytes() (int64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRow("SELECT SUM(LENGTH(payload)) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: sizing entries: %w", err)
	}
	return n.Int64, nil
}

// Prune removes entries until total payload size is at or below
// maxBytes, evicting lowest-durability oldest-first. It returns the
// number of entries removed.
func (s *ContentStore) Prune(maxBytes int64) (int, error) {
	total, err := s.TotalBytes()
	if err != nil {
		return 0, err
	}
	if total <= maxBytes {
		return 0, nil
	}

	rows, err := s.db.Query(
		`SELECT digest, LENGTH(payload) FROM entries
		 ORDER BY durability ASC, created_at ASC`)
	if err != nil {
		return 0, fmt.Errorf("cache: listing entries: %w", err)
	}
	defer rows.Close()

	type victim struct {
		digest []byte
		size   int64
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.digest, &v.size); err != nil {
			return 0, fmt.Errorf("cache: scanning entry: %w", err)
		}
		victims = append(victims, v)
		total -= v.size
		if total <= maxBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("cache: listing entries: %w", err)
	}

	removed := 0
	for _, v := range victims {
		if _, err := s.db.Exec("DELETE FROM entries WHERE digest = ?", v.digest); err != nil {
			return removed, fmt.Errorf("cache: pruning entry: %w", err)
		}
		removed++
	}
	if removed > 0 {
		s.log.Infof("pruned %d entries", removed)
	}
	return removed, nil
}

// Verify checks every entry's checksum and format version, deleting
// corrupt ones. It returns the number of entries deleted.
func (s *ContentStore) Verify() (int, error) {
	rows, err := s.db.Query("SELECT digest, format_version, payload, checksum FROM entries")
	if err != nil {
		return 0, fmt.Errorf("cache: listing entries: %w", err)
	}
	defer rows.Close()

	var bad [][]byte
	for rows.Next() {
		var (
			digest   []byte
			version  int
			payload  []byte
			checksum int64
		)
		if err := rows.Scan(&digest, &version, &payload, &checksum); err != nil {
			return 0, fmt.Errorf("cache: scanning entry: %w", err)
		}
		if version != storeFormatVersion || crc32.ChecksumIEEE(payload) != uint32(checksum) {
			bad = append(bad, digest)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("cache: listing entries: %w", err)
	}

	for _, d := range bad {
		if _, err := s.db.Exec("DELETE FROM entries WHERE digest = ?", d); err != nil {
			return 0, fmt.Errorf("cache: deleting corrupt entry: %w", err)
		}
	}
	if n := len(bad); n > 0 {
		s.stats.L2Corrupt.Add(uint64(n))
		s.log.Errorf("removed %d corrupt entries", n)
	}
	return len(bad), nil
}
