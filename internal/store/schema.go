package store

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS records (
        collection TEXT NOT NULL,
        id TEXT NOT NULL,
        body JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (collection, id)
    );`,
	`CREATE TABLE IF NOT EXISTS blobs (
        handle TEXT PRIMARY KEY,
        target TEXT NOT NULL,
        item_id TEXT NOT NULL,
        platform TEXT NOT NULL DEFAULT '',
        filename TEXT NOT NULL DEFAULT '',
        content_type TEXT NOT NULL DEFAULT '',
        source_url TEXT NOT NULL DEFAULT '',
        extra JSONB NOT NULL DEFAULT '{}',
        size INTEGER NOT NULL,
        data BYTEA NOT NULL,
        stored_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS blobs_target_idx ON blobs (target, stored_at);`,
	`CREATE TABLE IF NOT EXISTS media_refs (
        target TEXT NOT NULL,
        item_id TEXT NOT NULL,
        ordinal INTEGER NOT NULL,
        url TEXT NOT NULL DEFAULT '',
        format TEXT NOT NULL,
        handle TEXT NOT NULL DEFAULT '',
        content_type TEXT NOT NULL DEFAULT '',
        size INTEGER NOT NULL DEFAULT 0,
        created_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (target, item_id, ordinal)
    );`,
}
