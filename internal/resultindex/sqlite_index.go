// Package resultindex implements interfaces.ResultIndex - the best-effort
// searchable store for completed job and page results (§4.B, §6). It is a
// second, independent SQLite database: separating it from the metadata
// store means a degraded or corrupted index can be dropped and rebuilt
// without touching the system of record.
package resultindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

// jobLevelPageNumber is the sentinel stored in place of NULL for job-level
// rows, since SQLite primary-key columns are implicitly NOT NULL.
const jobLevelPageNumber = -1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS result_index (
	main_id     TEXT NOT NULL,
	page_number INTEGER NOT NULL DEFAULT -1,
	user_id     TEXT NOT NULL,
	filename    TEXT,
	total_pages INTEGER NOT NULL DEFAULT 0,
	markdown    TEXT NOT NULL,
	metadata    TEXT,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (main_id, page_number)
);

CREATE INDEX IF NOT EXISTS idx_result_index_user ON result_index(user_id);
`

// Index is the SQLite-backed ResultIndex.
type Index struct {
	db     *sql.DB
	logger arbor.ILogger
}

var _ interfaces.ResultIndex = (*Index)(nil)

func Open(logger arbor.ILogger, path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create result index directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize result index schema: %w", err)
	}
	return &Index{db: db, logger: logger}, nil
}

func (idx *Index) Close() error { return idx.db.Close() }

func (idx *Index) StoreJob(ctx context.Context, mainID, markdown, userID, filename string, totalPages int, metadata map[string]interface{}) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = idx.db.ExecContext(ctx, `
		INSERT INTO result_index (main_id, page_number, user_id, filename, total_pages, markdown, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, unixepoch())
		ON CONFLICT(main_id, page_number) DO UPDATE SET
			user_id = excluded.user_id, filename = excluded.filename, total_pages = excluded.total_pages,
			markdown = excluded.markdown, metadata = excluded.metadata, updated_at = excluded.updated_at`,
		mainID, jobLevelPageNumber, userID, filename, totalPages, markdown, string(meta))
	if err != nil {
		return fmt.Errorf("failed to index job %s: %w", mainID, err)
	}
	return nil
}

func (idx *Index) StorePage(ctx context.Context, mainID string, pageNumber int, markdown string, metadata map[string]interface{}) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = idx.db.ExecContext(ctx, `
		INSERT INTO result_index (main_id, page_number, user_id, markdown, metadata, updated_at)
		VALUES (?, ?, '', ?, ?, unixepoch())
		ON CONFLICT(main_id, page_number) DO UPDATE SET
			markdown = excluded.markdown, metadata = excluded.metadata, updated_at = excluded.updated_at`,
		mainID, pageNumber, markdown, string(meta))
	if err != nil {
		return fmt.Errorf("failed to index page %d of %s: %w", pageNumber, mainID, err)
	}
	return nil
}

func (idx *Index) scan(row *sql.Row) (*interfaces.ResultIndexEntry, error) {
	var e interfaces.ResultIndexEntry
	var pageNumber int
	var filename sql.NullString
	var metaJSON string
	if err := row.Scan(&e.MainID, &pageNumber, &e.UserID, &filename, &e.Markdown, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if pageNumber != jobLevelPageNumber {
		e.PageNumber = &pageNumber
	}
	if filename.Valid {
		e.Filename = filename.String
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
	}
	return &e, nil
}

func (idx *Index) GetJob(ctx context.Context, mainID string) (*interfaces.ResultIndexEntry, error) {
	row := idx.db.QueryRowContext(ctx,
		`SELECT main_id, page_number, user_id, filename, markdown, metadata FROM result_index WHERE main_id = ? AND page_number = ?`,
		mainID, jobLevelPageNumber)
	return idx.scan(row)
}

func (idx *Index) GetPage(ctx context.Context, mainID string, pageNumber int) (*interfaces.ResultIndexEntry, error) {
	row := idx.db.QueryRowContext(ctx,
		`SELECT main_id, page_number, user_id, filename, markdown, metadata FROM result_index WHERE main_id = ? AND page_number = ?`,
		mainID, pageNumber)
	return idx.scan(row)
}

// Search matches query against filename and markdown content for userID,
// ordered by most recently updated (§4.B search).
func (idx *Index) Search(ctx context.Context, userID, query string, limit int) ([]interfaces.ResultIndexEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := idx.db.QueryContext(ctx, `
		SELECT main_id, page_number, user_id, filename, markdown, metadata FROM result_index
		WHERE user_id = ? AND page_number = ? AND (filename LIKE ? OR markdown LIKE ?)
		ORDER BY updated_at DESC LIMIT ?`,
		userID, jobLevelPageNumber, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var entries []interfaces.ResultIndexEntry
	for rows.Next() {
		var e interfaces.ResultIndexEntry
		var pageNumber int
		var filename sql.NullString
		var metaJSON string
		if err := rows.Scan(&e.MainID, &pageNumber, &e.UserID, &filename, &e.Markdown, &metaJSON); err != nil {
			return nil, err
		}
		if filename.Valid {
			e.Filename = filename.String
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (idx *Index) DeleteJob(ctx context.Context, mainID string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM result_index WHERE main_id = ? AND page_number = ?`, mainID, jobLevelPageNumber)
	return err
}

func (idx *Index) DeleteAllPages(ctx context.Context, mainID string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM result_index WHERE main_id = ? AND page_number != ?`, mainID, jobLevelPageNumber)
	return err
}

func (idx *Index) HealthCheck(ctx context.Context) error {
	return idx.db.PingContext(ctx)
}
