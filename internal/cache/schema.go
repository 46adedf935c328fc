package cache

const schema = `
-- The 'records' table holds every cached entity, partitioned by the owning
-- user and the entity collection. The payload is the entity's JSON as
-- returned by the remote service.
CREATE TABLE IF NOT EXISTS records (
    user_id TEXT NOT NULL,
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    parent_id TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    updated_at DATETIME NOT NULL,

    PRIMARY KEY (user_id, collection, id)
);

CREATE INDEX IF NOT EXISTS records_by_parent
    ON records (user_id, collection, parent_id);
`
