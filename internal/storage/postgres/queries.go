package postgres

// Schema creates the tables backing partitions, documents and the inverted
// term index. Terms are distinct per (document, field), so COUNT(*) over a
// term group counts documents.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_partitions (
    name            TEXT PRIMARY KEY,
    mapping         JSONB NOT NULL,
    mapping_version INT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS watch_documents (
    partition TEXT NOT NULL REFERENCES watch_partitions(name),
    id        TEXT NOT NULL,
    seq       BIGSERIAL,
    doc       JSONB NOT NULL,
    PRIMARY KEY (partition, id)
);

CREATE TABLE IF NOT EXISTS watch_terms (
    partition TEXT NOT NULL,
    doc_id    TEXT NOT NULL,
    field     TEXT NOT NULL,
    term      TEXT NOT NULL,
    PRIMARY KEY (partition, doc_id, field, term),
    FOREIGN KEY (partition, doc_id) REFERENCES watch_documents(partition, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS watch_terms_field_term_idx ON watch_terms (field, term);
`

const queryInsertPartition = `
INSERT INTO watch_partitions (name, mapping, mapping_version)
VALUES ($1, $2, $3)
`

const queryPartitionExists = `
SELECT EXISTS (SELECT 1 FROM watch_partitions WHERE name = $1)
`

const queryGetMapping = `
SELECT mapping FROM watch_partitions WHERE name = $1
`

const queryListMappings = `
SELECT name, mapping FROM watch_partitions WHERE name LIKE $1 ORDER BY name
`

const queryUpsertDocument = `
INSERT INTO watch_documents (partition, id, doc)
VALUES ($1, $2, $3)
ON CONFLICT (partition, id) DO UPDATE SET doc = EXCLUDED.doc
`

const queryDeleteTerms = `
DELETE FROM watch_terms WHERE partition = $1 AND doc_id = $2
`

const queryInsertTerms = `
INSERT INTO watch_terms (partition, doc_id, field, term)
SELECT $1, $2, f, t FROM unnest($3::text[], $4::text[]) AS x(f, t)
`
