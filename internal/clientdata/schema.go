package clientdata

// Schema creates the client data tables
const Schema = `
CREATE TABLE IF NOT EXISTS community_listing (
	key TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_community_listing_expires ON community_listing(expires_at);
`
