package index

// Schema contains SQL schema definitions for the index
const Schema = `
-- Folders table
CREATE TABLE IF NOT EXISTS folders (
    name TEXT PRIMARY KEY,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Messages table
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    folder TEXT NOT NULL,
    message_id TEXT NOT NULL,
    subject TEXT,
    sender_name TEXT,
    sender_email TEXT,
    date DATETIME NOT NULL,
    flags TEXT NOT NULL DEFAULT '',
    body_text TEXT,
    raw BLOB NOT NULL,
    indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (folder) REFERENCES folders(name) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(folder);
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date);
CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages(message_id);

-- Full-text search index
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    subject,
    sender_email,
    sender_name,
    body_text,
    content='messages',
    content_rowid='id'
);

-- Triggers keeping the external content table in step
CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, subject, sender_email, sender_name, body_text)
    VALUES (new.id, new.subject, new.sender_email, new.sender_name, new.body_text);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_update AFTER UPDATE OF subject, sender_email, sender_name, body_text ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, subject, sender_email, sender_name, body_text)
    VALUES ('delete', old.id, old.subject, old.sender_email, old.sender_name, old.body_text);
    INSERT INTO messages_fts(rowid, subject, sender_email, sender_name, body_text)
    VALUES (new.id, new.subject, new.sender_email, new.sender_name, new.body_text);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, subject, sender_email, sender_name, body_text)
    VALUES ('delete', old.id, old.subject, old.sender_email, old.sender_name, old.body_text);
END;
`
