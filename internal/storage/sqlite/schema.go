package sqlite

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id             TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	job_type           TEXT NOT NULL,
	parent_job_id      TEXT,
	source_type        TEXT,
	source_url         TEXT,
	filename           TEXT,
	mime_type          TEXT,
	file_size_bytes    INTEGER,
	file_checksum      TEXT,
	upload_object_key  TEXT,
	result_object_key  TEXT,
	status             TEXT NOT NULL,
	progress_percent   INTEGER NOT NULL DEFAULT 0,
	error_message      TEXT,
	total_pages        INTEGER,
	pages_completed    INTEGER NOT NULL DEFAULT 0,
	pages_failed       INTEGER NOT NULL DEFAULT 0,
	char_count         INTEGER NOT NULL DEFAULT 0,
	has_result_stored  INTEGER NOT NULL DEFAULT 0,
	page_number        INTEGER,
	created_at         INTEGER NOT NULL,
	started_at         INTEGER,
	completed_at       INTEGER,
	updated_at         INTEGER NOT NULL,
	FOREIGN KEY (parent_job_id) REFERENCES jobs(job_id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_parent ON jobs(parent_job_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);
-- Dedup gate (§4.L): at most one MAIN per (user_id, file_checksum).
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_dedup
	ON jobs(user_id, file_checksum)
	WHERE job_type = 'MAIN' AND file_checksum IS NOT NULL;

CREATE TABLE IF NOT EXISTS pages (
	page_id           TEXT PRIMARY KEY,
	job_id            TEXT NOT NULL,
	page_number       INTEGER NOT NULL,
	page_job_id       TEXT NOT NULL,
	minio_page_path   TEXT NOT NULL,
	status            TEXT NOT NULL,
	error_message     TEXT,
	retry_count       INTEGER NOT NULL DEFAULT 0,
	markdown_content  TEXT,
	char_count        INTEGER NOT NULL DEFAULT 0,
	has_result_stored INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	completed_at      INTEGER,
	updated_at        INTEGER NOT NULL,
	FOREIGN KEY (job_id) REFERENCES jobs(job_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pages_job_number ON pages(job_id, page_number);
CREATE INDEX IF NOT EXISTS idx_pages_status ON pages(job_id, status);
`

func (d *DB) initSchema() error {
	_, err := d.db.Exec(schemaSQL)
	return err
}
