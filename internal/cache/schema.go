package cache

// Schema contains SQL schema definitions for the sync cache.
//
// The account column holds the side key: the bare account name for the
// remote side, the account name plus LocalSuffix for the local side.
const Schema = `
-- Folders seen at the end of the last sync pass
CREATE TABLE IF NOT EXISTS folders (
    account TEXT NOT NULL,
    name TEXT NOT NULL,
    UNIQUE(name, account)
);

-- Envelopes seen at the end of the last sync pass
CREATE TABLE IF NOT EXISTS envelopes (
    account TEXT NOT NULL,
    folder TEXT NOT NULL,
    internal_id TEXT NOT NULL,
    id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    flags TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    sender_name TEXT NOT NULL DEFAULT '',
    sender_email TEXT NOT NULL DEFAULT '',
    date DATETIME,
    UNIQUE(account, folder, internal_id)
);

CREATE INDEX IF NOT EXISTS idx_envelopes_folder ON envelopes(account, folder);
CREATE INDEX IF NOT EXISTS idx_envelopes_message_id ON envelopes(message_id);
`
