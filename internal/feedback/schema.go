package feedback

// Schema is applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS examples (
	message_id   TEXT PRIMARY KEY,
	channel_id   TEXT NOT NULL DEFAULT '',
	reactor_id   TEXT NOT NULL DEFAULT '',
	emoji        TEXT NOT NULL DEFAULT '',
	captured_at  DATETIME NOT NULL,
	messages     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_examples_captured_at ON examples(captured_at);
`
