package storage

const schema = `
-- The 'sources' table tracks the origin of the cards, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local', -- local | git
    last_scanned DATETIME
);

-- The 'cards' table stores the authored content of each card and its FSRS memory state.
CREATE TABLE IF NOT EXISTS cards (
    hash TEXT PRIMARY KEY,
    deck TEXT NOT NULL DEFAULT '',
    question TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    options TEXT NOT NULL DEFAULT '[]', -- JSON array of {id, text, correct}
    explanation TEXT NOT NULL DEFAULT '',
    stability REAL DEFAULT 0,
    difficulty REAL DEFAULT 0,
    due_date DATETIME NOT NULL,
    last_review DATETIME,
    state INTEGER DEFAULT 0, -- 0: New, 1: Learning, 2: Review, 3: Relearning
    source_id INTEGER,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);
CREATE INDEX IF NOT EXISTS idx_cards_deck_due ON cards(deck, due_date);

-- Quiz sessions keep a snapshot of every served question so later edits of
-- the card files cannot change a running quiz.
CREATE TABLE IF NOT EXISTS quiz_sessions (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    mode TEXT NOT NULL,
    time_limit_seconds INTEGER NOT NULL DEFAULT 0,
    started_at DATETIME NOT NULL,
    completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS quiz_items (
    session_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    payload TEXT NOT NULL,
    correct_option TEXT NOT NULL,
    explanation TEXT NOT NULL DEFAULT '',
    flagged INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY(session_id, item_id),
    FOREIGN KEY(session_id) REFERENCES quiz_sessions(id)
);

-- One row per (session, item): resubmitting an answer overwrites it.
CREATE TABLE IF NOT EXISTS quiz_answers (
    session_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    option_id TEXT NOT NULL,
    is_correct INTEGER NOT NULL,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    answered_at DATETIME NOT NULL,

    PRIMARY KEY(session_id, item_id)
);

CREATE TABLE IF NOT EXISTS study_sessions (
    id TEXT PRIMARY KEY,
    deck TEXT NOT NULL,
    include_new INTEGER NOT NULL DEFAULT 1,
    started_at DATETIME NOT NULL,
    reviewed INTEGER NOT NULL DEFAULT 0,
    correct INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS review_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    card_hash TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    timestamp DATETIME NOT NULL,
    grade INTEGER NOT NULL,
    time_spent_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_review_logs_card ON review_logs(card_hash);

-- Client-side queue of ratings waiting to be synced.
CREATE TABLE IF NOT EXISTS pending_reviews (
    id TEXT PRIMARY KEY,
    seq INTEGER NOT NULL,
    record TEXT NOT NULL,
    queued_at DATETIME NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0
);
`
