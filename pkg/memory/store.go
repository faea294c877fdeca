package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	sqlite_vec.Auto()
}

// maxBatch keeps IN (...) lists below SQLite's bound parameter limit.
const maxBatch = 500

const memoryColumns = `id, user_id, content, keywords, category, importance_score, access_count,
	created_at, last_accessed, content_hash, simhash64, embedding_version, ttl_seconds,
	deleted_at, pii_flag, source`

// StoreConfig holds record store configuration
type StoreConfig struct {
	DBPath    string
	Dimension int
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Store owns the record table and both secondary indexes. Every mutation of the
// record table touches the lexical and vector entries in the same transaction.
type Store struct {
	db        *sql.DB
	path      string
	dimension int
	logger    zerolog.Logger
	now       func() time.Time

	// failpoint is consulted between the sub-writes of a mutation; tests use it
	// to abort a transaction half way.
	failpoint func(stage string) error
}

// OpenStore opens (or creates) the database and its indexes.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrStoreUnavailable)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", ErrStoreUnavailable)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create data directory: %v", ErrStoreUnavailable, err)
	}

	dsn := cfg.DBPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStoreUnavailable, err)
	}
	// One connection shared by requests and maintenance; transactions serialize on it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to connect to database: %v", ErrStoreUnavailable, err)
	}

	s := &Store{
		db:        db,
		path:      cfg.DBPath,
		dimension: cfg.Dimension,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", ErrStoreUnavailable, err)
	}

	s.logger.Info().
		Str("db_path", cfg.DBPath).
		Int("dimension", cfg.Dimension).
		Msg("Memory store opened")

	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			row_id INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			keywords TEXT NOT NULL DEFAULT '[]',
			category TEXT NOT NULL DEFAULT 'personal',
			importance_score REAL NOT NULL DEFAULT 1.0,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			simhash64 TEXT,
			embedding_version INTEGER NOT NULL DEFAULT 1,
			ttl_seconds INTEGER,
			deleted_at INTEGER,
			pii_flag INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'user'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_live_hash ON memories(content_hash) WHERE deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_category ON memories(user_id, category)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_deleted ON memories(deleted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_simhash ON memories(simhash64) WHERE deleted_at IS NULL`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content, keywords, category,
			tokenize = 'porter unicode61'
		)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS memory_embeddings USING vec0(
			embedding float[%d]
		)`, s.dimension),
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dimension returns the configured embedding length.
func (s *Store) Dimension() int {
	return s.dimension
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) checkpoint(stage string) error {
	if s.failpoint == nil {
		return nil
	}
	return s.failpoint(stage)
}

func (s *Store) serialize(embedding []float32) ([]byte, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, want %d", ErrInvalidArgument, len(embedding), s.dimension)
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize embedding: %w", err)
	}
	return blob, nil
}

// Insert writes a new record with its lexical and vector entries atomically.
func (s *Store) Insert(ctx context.Context, rec NewRecord, embedding []float32) (*Memory, error) {
	if rec.UserID == "" || strings.TrimSpace(rec.Content) == "" || rec.ContentHash == "" {
		return nil, fmt.Errorf("%w: user, content and content hash are required", ErrInvalidArgument)
	}
	blob, err := s.serialize(embedding)
	if err != nil {
		return nil, err
	}

	if rec.Keywords == nil {
		rec.Keywords = []string{}
	}
	if rec.Category == "" {
		rec.Category = CategoryPersonal
	}
	if rec.Source == "" {
		rec.Source = DefaultSource
	}
	if rec.EmbeddingVersion == 0 {
		rec.EmbeddingVersion = DefaultEmbeddingVersion
	}
	keywordsJSON, err := json.Marshal(rec.Keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to encode keywords: %w", err)
	}

	id := uuid.NewString()
	now := s.nowMillis()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkDuplicate(ctx, tx, rec.ContentHash, ""); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO memories (id, user_id, content, keywords, category, importance_score,
				access_count, created_at, last_accessed, content_hash, simhash64,
				embedding_version, ttl_seconds, pii_flag, source)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, rec.UserID, rec.Content, string(keywordsJSON), rec.Category, rec.Importance,
			now, now, rec.ContentHash, nullString(rec.SimHash), rec.EmbeddingVersion,
			nullInt64(rec.TTLSeconds), boolToInt(rec.Sensitive), rec.Source)
		if err != nil {
			return mapConstraintError(err)
		}

		rowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read row id: %w", err)
		}

		return s.insertIndexEntries(ctx, tx, rowID, rec.Content, string(keywordsJSON), rec.Category, blob)
	})
	if err != nil {
		return nil, err
	}

	return s.FetchOne(ctx, id)
}

// Update replaces the content of a live record and rebuilds its index entries.
func (s *Store) Update(ctx context.Context, id string, upd ContentUpdate, embedding []float32) (*Memory, error) {
	if strings.TrimSpace(upd.Content) == "" || upd.ContentHash == "" {
		return nil, fmt.Errorf("%w: content and content hash are required", ErrInvalidArgument)
	}
	blob, err := s.serialize(embedding)
	if err != nil {
		return nil, err
	}
	if upd.Keywords == nil {
		upd.Keywords = []string{}
	}
	if upd.Category == "" {
		upd.Category = CategoryPersonal
	}
	if upd.EmbeddingVersion == 0 {
		upd.EmbeddingVersion = DefaultEmbeddingVersion
	}
	keywordsJSON, err := json.Marshal(upd.Keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to encode keywords: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var rowID int64
		err := tx.QueryRowContext(ctx,
			`SELECT row_id FROM memories WHERE id = ? AND deleted_at IS NULL`, id).Scan(&rowID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to look up memory: %w", err)
		}

		if err := checkDuplicate(ctx, tx, upd.ContentHash, id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE memories
			SET content = ?, keywords = ?, category = ?, content_hash = ?, simhash64 = ?,
				embedding_version = ?, pii_flag = ?
			WHERE row_id = ?
		`, upd.Content, string(keywordsJSON), upd.Category, upd.ContentHash, nullString(upd.SimHash),
			upd.EmbeddingVersion, boolToInt(upd.Sensitive), rowID); err != nil {
			return mapConstraintError(err)
		}

		if err := deleteIndexEntries(ctx, tx, []int64{rowID}); err != nil {
			return err
		}
		return s.insertIndexEntries(ctx, tx, rowID, upd.Content, string(keywordsJSON), upd.Category, blob)
	})
	if err != nil {
		return nil, err
	}

	return s.FetchOne(ctx, id)
}

func checkDuplicate(ctx context.Context, tx *sql.Tx, hash, exceptID string) error {
	var existing string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM memories WHERE content_hash = ? AND deleted_at IS NULL AND id != ?`,
		hash, exceptID).Scan(&existing)
	if err == nil {
		return fmt.Errorf("%w: matches memory %s", ErrDuplicateContent, existing)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check content hash: %w", err)
	}
	return nil
}

func mapConstraintError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", ErrDuplicateContent, err)
	}
	return fmt.Errorf("failed to write memory: %w", err)
}

func (s *Store) insertIndexEntries(ctx context.Context, tx *sql.Tx, rowID int64, content, keywords, category string, blob []byte) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories_fts (rowid, content, keywords, category) VALUES (?, ?, ?, ?)`,
		rowID, content, keywords, category); err != nil {
		return fmt.Errorf("failed to write lexical entry: %w", err)
	}

	if err := s.checkpoint("lexical"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memory_embeddings (rowid, embedding) VALUES (?, ?)`,
		rowID, blob); err != nil {
		return fmt.Errorf("failed to write vector entry: %w", err)
	}

	return s.checkpoint("vector")
}

func deleteIndexEntries(ctx context.Context, tx *sql.Tx, rowIDs []int64) error {
	for _, chunk := range chunkInt64(rowIDs, maxBatch) {
		in, args := inClause(chunk)
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE rowid IN (`+in+`)`, args...); err != nil {
			return fmt.Errorf("failed to delete lexical entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE rowid IN (`+in+`)`, args...); err != nil {
			return fmt.Errorf("failed to delete vector entries: %w", err)
		}
	}
	return nil
}

// SoftDelete marks live records as deleted and returns how many changed state.
func (s *Store) SoftDelete(ctx context.Context, ids []string) (int, error) {
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	now := s.nowMillis()
	total := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range chunkStrings(ids, maxBatch) {
			in, args := inClause(chunk)
			res, err := tx.ExecContext(ctx,
				`UPDATE memories SET deleted_at = ? WHERE deleted_at IS NULL AND id IN (`+in+`)`,
				append([]any{now}, args...)...)
			if err != nil {
				return fmt.Errorf("failed to soft delete memories: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Purge hard-deletes records soft-deleted more than olderThanDays ago, along with
// their index entries. Live records are never touched.
func (s *Store) Purge(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("%w: retention days must not be negative", ErrInvalidArgument)
	}
	cutoff := s.nowMillis() - int64(olderThanDays)*int64(24*time.Hour/time.Millisecond)

	purged := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rowIDs, err := queryInt64s(ctx, tx,
			`SELECT row_id FROM memories WHERE deleted_at IS NOT NULL AND deleted_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to select purgeable memories: %w", err)
		}
		if len(rowIDs) == 0 {
			return nil
		}

		if err := deleteIndexEntries(ctx, tx, rowIDs); err != nil {
			return err
		}
		if err := s.checkpoint("purge"); err != nil {
			return err
		}
		for _, chunk := range chunkInt64(rowIDs, maxBatch) {
			in, args := inClause(chunk)
			if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE row_id IN (`+in+`)`, args...); err != nil {
				return fmt.Errorf("failed to purge memories: %w", err)
			}
		}
		purged = len(rowIDs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// FetchOne returns a live record by id.
func (s *Store) FetchOne(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ? AND deleted_at IS NULL`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch memory: %w", err)
	}
	return m, nil
}

// FetchMany returns live records in the order of ids, dropping missing ones.
func (s *Store) FetchMany(ctx context.Context, ids []string) ([]*Memory, error) {
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return []*Memory{}, nil
	}

	byID := make(map[string]*Memory, len(ids))
	for _, chunk := range chunkStrings(ids, maxBatch) {
		in, args := inClause(chunk)
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+memoryColumns+` FROM memories WHERE deleted_at IS NULL AND id IN (`+in+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch memories: %w", err)
		}
		for rows.Next() {
			m, err := scanMemory(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan memory: %w", err)
			}
			byID[m.ID] = m
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	out := make([]*Memory, 0, len(byID))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// BumpAccess increments access counts and refreshes last_accessed for live ids.
func (s *Store) BumpAccess(ctx context.Context, ids []string) error {
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return nil
	}
	now := s.nowMillis()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range chunkStrings(ids, maxBatch) {
			in, args := inClause(chunk)
			if _, err := tx.ExecContext(ctx, `
				UPDATE memories SET access_count = access_count + 1, last_accessed = ?
				WHERE deleted_at IS NULL AND id IN (`+in+`)`,
				append([]any{now}, args...)...); err != nil {
				return fmt.Errorf("failed to bump access: %w", err)
			}
		}
		return nil
	})
}

// FetchTTLExpired returns live records older than their TTL.
func (s *Store) FetchTTLExpired(ctx context.Context, limit int) ([]RecordRef, error) {
	if limit <= 0 {
		return []RecordRef{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id FROM memories
		WHERE deleted_at IS NULL AND ttl_seconds IS NOT NULL
			AND (? - created_at) > ttl_seconds * 1000
		ORDER BY created_at
		LIMIT ?`, s.nowMillis(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired memories: %w", err)
	}
	return scanRefs(rows)
}

// FetchMeta returns rescoring metadata for live ids.
func (s *Store) FetchMeta(ctx context.Context, ids []string) (map[string]RecordMeta, error) {
	out := make(map[string]RecordMeta, len(ids))
	for _, chunk := range chunkStrings(uniqueStrings(ids), maxBatch) {
		in, args := inClause(chunk)
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, created_at, access_count, importance_score FROM memories
			WHERE deleted_at IS NULL AND id IN (`+in+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch metadata: %w", err)
		}
		for rows.Next() {
			var (
				id         string
				createdAt  int64
				access     int64
				importance float64
			)
			if err := rows.Scan(&id, &createdAt, &access, &importance); err != nil {
				rows.Close()
				return nil, err
			}
			out[id] = RecordMeta{
				CreatedAt:   time.UnixMilli(createdAt),
				AccessCount: access,
				Importance:  importance,
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindDuplicateGroups groups live records by identical SimHash and returns every
// member except the oldest of each group. At most limitGroups groups are examined.
func (s *Store) FindDuplicateGroups(ctx context.Context, limitGroups int) ([]RecordRef, error) {
	if limitGroups <= 0 {
		return []RecordRef{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, simhash64 FROM memories
		WHERE deleted_at IS NULL AND simhash64 IN (
			SELECT simhash64 FROM memories
			WHERE deleted_at IS NULL AND simhash64 IS NOT NULL AND simhash64 != ''
			GROUP BY simhash64
			HAVING COUNT(*) > 1
			LIMIT ?
		)
		ORDER BY simhash64, created_at, row_id`, limitGroups)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate groups: %w", err)
	}
	defer rows.Close()

	var (
		out  = []RecordRef{}
		prev string
	)
	for rows.Next() {
		var ref RecordRef
		var hash string
		if err := rows.Scan(&ref.ID, &ref.UserID, &hash); err != nil {
			return nil, err
		}
		if hash == prev {
			out = append(out, ref)
		}
		prev = hash
	}
	return out, rows.Err()
}

// Compact optimizes the lexical index and reclaims free pages.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO memories_fts(memories_fts) VALUES('optimize')`); err != nil {
		return fmt.Errorf("failed to optimize lexical index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE`); err != nil {
		return fmt.Errorf("failed to analyze: %w", err)
	}
	return nil
}

// Stats reports live record count, embedding count and file size. A size that
// cannot be read is reported as zero.
func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	var st StoreStats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL`).Scan(&st.Count); err != nil {
		return st, fmt.Errorf("failed to count memories: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_embeddings`).Scan(&st.EmbeddingCount); err != nil {
		return st, fmt.Errorf("failed to count embeddings: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		st.SizeMB = math.Round(float64(info.Size())/(1024*1024)*100) / 100
	}
	return st, nil
}

// CheckIndexes compares the record table with both indexes. It returns nil when
// they agree and an *IndexDesyncError otherwise.
func (s *Store) CheckIndexes(ctx context.Context) (*IndexDesyncError, error) {
	live, err := queryInt64s(ctx, s.db, `SELECT row_id FROM memories WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	all, err := queryInt64s(ctx, s.db, `SELECT row_id FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	lexical, err := queryInt64s(ctx, s.db, `SELECT rowid FROM memories_fts`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lexical entries: %w", err)
	}
	vector, err := queryInt64s(ctx, s.db, `SELECT rowid FROM memory_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vector entries: %w", err)
	}

	report := &IndexDesyncError{
		MissingLexical: difference(live, lexical),
		MissingVector:  difference(live, vector),
		OrphanLexical:  difference(lexical, all),
		OrphanVector:   difference(vector, all),
	}
	if report.Empty() {
		return nil, nil
	}
	return report, nil
}

// RepairIndexes restores missing index entries from the record table and drops
// orphans. Missing vectors are recomputed with embed. It returns what was repaired.
func (s *Store) RepairIndexes(ctx context.Context, embed func(ctx context.Context, text string) ([]float32, error)) (*IndexDesyncError, error) {
	report, err := s.CheckIndexes(ctx)
	if err != nil || report == nil {
		return nil, err
	}

	blobs := make(map[int64][]byte, len(report.MissingVector))
	for _, rowID := range report.MissingVector {
		var content string
		if err := s.db.QueryRowContext(ctx,
			`SELECT content FROM memories WHERE row_id = ?`, rowID).Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to load memory %d: %w", rowID, err)
		}
		vec, err := embed(ctx, NormalizeText(content))
		if err != nil {
			return nil, fmt.Errorf("failed to embed memory %d: %w", rowID, err)
		}
		blob, err := s.serialize(vec)
		if err != nil {
			return nil, err
		}
		blobs[rowID] = blob
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, rowID := range report.MissingLexical {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO memories_fts (rowid, content, keywords, category)
				SELECT row_id, content, keywords, category FROM memories WHERE row_id = ?`, rowID); err != nil {
				return fmt.Errorf("failed to restore lexical entry %d: %w", rowID, err)
			}
		}
		for rowID, blob := range blobs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO memory_embeddings (rowid, embedding) VALUES (?, ?)`, rowID, blob); err != nil {
				return fmt.Errorf("failed to restore vector entry %d: %w", rowID, err)
			}
		}
		for _, chunk := range chunkInt64(report.OrphanLexical, maxBatch) {
			in, args := inClause(chunk)
			if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE rowid IN (`+in+`)`, args...); err != nil {
				return fmt.Errorf("failed to drop orphan lexical entries: %w", err)
			}
		}
		for _, chunk := range chunkInt64(report.OrphanVector, maxBatch) {
			in, args := inClause(chunk)
			if _, err := tx.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE rowid IN (`+in+`)`, args...); err != nil {
				return fmt.Errorf("failed to drop orphan vector entries: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// RebuildLexical recreates every lexical entry from the record table.
func (s *Store) RebuildLexical(ctx context.Context) (int, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts`); err != nil {
			return fmt.Errorf("failed to clear lexical index: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO memories_fts (rowid, content, keywords, category)
			SELECT row_id, content, keywords, category FROM memories`)
		if err != nil {
			return fmt.Errorf("failed to rebuild lexical index: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var (
		m            Memory
		keywords     string
		createdAt    int64
		lastAccessed int64
		simhash      sql.NullString
		ttl          sql.NullInt64
		deletedAt    sql.NullInt64
		pii          int
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.Content, &keywords, &m.Category, &m.Importance,
		&m.AccessCount, &createdAt, &lastAccessed, &m.ContentHash, &simhash,
		&m.EmbeddingVersion, &ttl, &deletedAt, &pii, &m.Source); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(keywords), &m.Keywords); err != nil || m.Keywords == nil {
		m.Keywords = []string{}
	}
	m.CreatedAt = time.UnixMilli(createdAt)
	m.LastAccessed = time.UnixMilli(lastAccessed)
	m.SimHash = simhash.String
	if ttl.Valid {
		v := ttl.Int64
		m.TTLSeconds = &v
	}
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64)
		m.DeletedAt = &t
	}
	m.Sensitive = pii != 0
	return &m, nil
}

func scanRefs(rows *sql.Rows) ([]RecordRef, error) {
	defer rows.Close()
	out := []RecordRef{}
	for rows.Next() {
		var ref RecordRef
		if err := rows.Scan(&ref.ID, &ref.UserID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryInt64s(ctx context.Context, q queryer, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// difference returns the members of a that are not in b.
func difference(a, b []int64) []int64 {
	set := make(map[int64]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []int64
	for _, v := range a {
		if _, ok := set[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

func inClause[T any](values []T) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(values)), ","), args
}

func chunkStrings(values []string, size int) [][]string {
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

func chunkInt64(values []int64, size int) [][]int64 {
	var out [][]int64
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
