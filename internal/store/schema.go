package store

// schema is applied idempotently on open (CREATE TABLE/INDEX IF NOT EXISTS),
// the same idempotent-migration idiom as the Factory reference's sqlite
// migration table, collapsed to a single versionless schema since devtrackd has no
// prior shipped schema to migrate from.
const schema = `
CREATE TABLE IF NOT EXISTS triggers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	source TEXT,
	repo_path TEXT,
	commit_hash TEXT,
	commit_message TEXT,
	author TEXT,
	data TEXT,
	processed INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_triggers_timestamp ON triggers(timestamp);
CREATE INDEX IF NOT EXISTS idx_triggers_processed ON triggers(processed);

CREATE TABLE IF NOT EXISTS responses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trigger_id INTEGER NOT NULL REFERENCES triggers(id),
	timestamp DATETIME NOT NULL,
	project TEXT,
	ticket_id TEXT,
	description TEXT,
	time_spent TEXT,
	status TEXT,
	raw_input TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_responses_trigger_id ON responses(trigger_id);

CREATE TABLE IF NOT EXISTS task_updates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	response_id INTEGER REFERENCES responses(id),
	timestamp DATETIME NOT NULL,
	project TEXT,
	ticket_id TEXT,
	update_text TEXT,
	status TEXT,
	synced INTEGER NOT NULL DEFAULT 0,
	synced_at DATETIME,
	platform TEXT,
	error TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_task_updates_response_id ON task_updates(response_id);
CREATE INDEX IF NOT EXISTS idx_task_updates_synced ON task_updates(synced);

CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	level TEXT NOT NULL,
	component TEXT NOT NULL,
	message TEXT NOT NULL,
	data TEXT
);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);

CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`
