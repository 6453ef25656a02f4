package store

// Timestamps are unix milliseconds
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS dca_strategies (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dca_strategies_status ON dca_strategies(status);

CREATE TABLE IF NOT EXISTS schedules (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    entity_kind TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    owner TEXT NOT NULL,
    token TEXT NOT NULL,
    side TEXT NOT NULL,
    price REAL NOT NULL,
    amount REAL NOT NULL,
    slippage_bps REAL NOT NULL DEFAULT 0,
    fee REAL NOT NULL DEFAULT 0,
    success INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    executed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_entity ON executions(entity_kind, entity_id);
CREATE INDEX IF NOT EXISTS idx_executions_owner ON executions(owner, executed_at);

CREATE TABLE IF NOT EXISTS cost_basis (
    owner TEXT NOT NULL,
    mint TEXT NOT NULL,
    amount REAL NOT NULL,
    total_cost REAL NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (owner, mint)
);
`
