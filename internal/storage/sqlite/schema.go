package sqlite

// Schema is the embedded base schema for the SQLite entity store.
// All statements are idempotent so the schema can be applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS canonical_entities (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	canonical_name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	metadata TEXT,
	confidence REAL NOT NULL DEFAULT 1.0,
	created_by TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1,
	deactivated_by TEXT NOT NULL DEFAULT '',
	deactivated_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entities_type_name
	ON canonical_entities(entity_type, canonical_name);

CREATE TABLE IF NOT EXISTS entity_aliases (
	id TEXT PRIMARY KEY,
	canonical_entity_id TEXT NOT NULL REFERENCES canonical_entities(id) ON DELETE CASCADE,
	alias TEXT NOT NULL,
	alias_normalized TEXT NOT NULL,
	alias_source TEXT NOT NULL DEFAULT 'auto_detected',
	confidence REAL NOT NULL DEFAULT 1.0,
	signal_id TEXT NOT NULL DEFAULT '',
	confirmed_by_human INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_aliases_entity_normalized
	ON entity_aliases(canonical_entity_id, alias_normalized);

CREATE INDEX IF NOT EXISTS idx_aliases_normalized
	ON entity_aliases(alias_normalized);

CREATE TABLE IF NOT EXISTS entity_resolution_log (
	id TEXT PRIMARY KEY,
	mention_text TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	signal_id TEXT NOT NULL DEFAULT '',
	resolution_result TEXT NOT NULL,
	resolved_to_entity_id TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	match_details TEXT NOT NULL DEFAULT '',
	llm_reasoning TEXT NOT NULL DEFAULT '',
	resolved_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_resolution_log_result
	ON entity_resolution_log(resolution_result, created_at);

CREATE TABLE IF NOT EXISTS entity_feedback_queue (
	id TEXT PRIMARY KEY,
	mention_text TEXT NOT NULL,
	candidate_name TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL DEFAULT '',
	reasoning TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_feedback_queue_status
	ON entity_feedback_queue(status, created_at);

CREATE TABLE IF NOT EXISTS entity_name_embeddings (
	entity_id TEXT PRIMARY KEY REFERENCES canonical_entities(id) ON DELETE CASCADE,
	embedding BLOB NOT NULL,
	dimension INTEGER NOT NULL,
	model TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
