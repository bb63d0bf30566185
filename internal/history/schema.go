package history

const schema = `
CREATE TABLE IF NOT EXISTS actions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    command TEXT NOT NULL,
    package TEXT NOT NULL,
    version TEXT,
    pid INTEGER NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    warnings TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_actions_package ON actions(package);
CREATE INDEX IF NOT EXISTS idx_actions_started ON actions(started_at);
`
