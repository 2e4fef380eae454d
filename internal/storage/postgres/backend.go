// Package postgres stores watch partitions in PostgreSQL. Each document is
// kept as JSONB next to an inverted term table built from the partition
// mapping, so term filters, date ranges and terms aggregations run as SQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	"github.com/djlord-it/easy-watcher/internal/storage"
)

const uniqueViolation = "23505"

type Backend struct {
	db        *sql.DB
	opTimeout time.Duration

	mu       sync.RWMutex
	mappings map[string]storage.Mapping
}

// New wraps db. opTimeout bounds every operation; zero disables it.
func New(db *sql.DB, opTimeout time.Duration) *Backend {
	return &Backend{
		db:        db,
		opTimeout: opTimeout,
		mappings:  make(map[string]storage.Mapping),
	}
}

// Migrate creates the schema if it does not exist.
func (b *Backend) Migrate(ctx context.Context) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	_, err := b.db.ExecContext(ctx, Schema)
	return errors.Wrap(err, "postgres: migrate")
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.opTimeout)
}

func (b *Backend) CreatePartition(ctx context.Context, name string, mapping storage.Mapping) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	raw, err := json.Marshal(mapping)
	if err != nil {
		return errors.Wrap(err, "postgres: encode mapping")
	}
	if _, err := b.db.ExecContext(ctx, queryInsertPartition, name, raw, mapping.Version); err != nil {
		if isDuplicateKeyError(err) {
			return errors.Wrapf(storage.ErrPartitionExists, "%s", name)
		}
		return errors.Wrapf(err, "postgres: create partition %s", name)
	}

	b.mu.Lock()
	b.mappings[name] = mapping
	b.mu.Unlock()
	return nil
}

func (b *Backend) PartitionExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := b.db.QueryRowContext(ctx, queryPartitionExists, name).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "postgres: partition exists %s", name)
	}
	return exists, nil
}

// mapping returns the partition mapping, cached after the first read since
// mappings never change.
func (b *Backend) mapping(ctx context.Context, name string) (storage.Mapping, error) {
	b.mu.RLock()
	m, ok := b.mappings[name]
	b.mu.RUnlock()
	if ok {
		return m, nil
	}

	var raw []byte
	err := b.db.QueryRowContext(ctx, queryGetMapping, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Mapping{}, errors.Wrapf(storage.ErrPartitionNotFound, "%s", name)
	}
	if err != nil {
		return storage.Mapping{}, errors.Wrapf(err, "postgres: load mapping %s", name)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return storage.Mapping{}, errors.Wrapf(err, "postgres: decode mapping %s", name)
	}

	b.mu.Lock()
	b.mappings[name] = m
	b.mu.Unlock()
	return m, nil
}

// PutDocument replaces the document and its terms in one transaction.
func (b *Backend) PutDocument(ctx context.Context, partition, id string, doc storage.Document) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	m, err := b.mapping(ctx, partition)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "postgres: encode document")
	}
	fields, terms := flattenTerms(storage.Analyze(m, doc))

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryUpsertDocument, partition, id, raw); err != nil {
		return errors.Wrapf(err, "postgres: put document %s/%s", partition, id)
	}
	if _, err := tx.ExecContext(ctx, queryDeleteTerms, partition, id); err != nil {
		return errors.Wrapf(err, "postgres: clear terms %s/%s", partition, id)
	}
	if len(fields) > 0 {
		if _, err := tx.ExecContext(ctx, queryInsertTerms, partition, id, pq.Array(fields), pq.Array(terms)); err != nil {
			return errors.Wrapf(err, "postgres: index terms %s/%s", partition, id)
		}
	}
	return errors.Wrap(tx.Commit(), "postgres: commit")
}

func flattenTerms(t storage.Terms) (fields, terms []string) {
	names := make([]string, 0, len(t))
	for f := range t {
		names = append(names, f)
	}
	sort.Strings(names)
	for _, f := range names {
		for _, term := range t[f] {
			fields = append(fields, f)
			terms = append(terms, term)
		}
	}
	return fields, terms
}

func (b *Backend) Search(ctx context.Context, q storage.Query) (storage.Result, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	mappings, err := b.matchingMappings(ctx, q.Partition)
	if err != nil {
		return storage.Result{}, err
	}
	if len(mappings) == 0 {
		return storage.Result{}, nil
	}
	for _, agg := range q.Aggregations {
		for _, m := range mappings {
			if err := storage.CheckAggregatable(m, agg.Field); err != nil {
				return storage.Result{}, err
			}
		}
	}

	// Filter values are analyzed with the first matching partition's mapping.
	w, ok := buildWhere(q, mappings[0])
	if !ok {
		return emptyResult(q), nil
	}

	res := storage.Result{}
	countSQL := "SELECT COUNT(*) FROM watch_documents d WHERE " + w.sql
	if err := b.db.QueryRowContext(ctx, countSQL, w.args...).Scan(&res.Total); err != nil {
		return storage.Result{}, errors.Wrap(err, "postgres: count")
	}

	if q.Size > 0 && res.Total > 0 {
		hits, err := b.hits(ctx, q, w)
		if err != nil {
			return storage.Result{}, err
		}
		res.Hits = hits
	}

	if len(q.Aggregations) > 0 {
		res.Aggregations = make(map[string][]storage.Bucket, len(q.Aggregations))
		for _, agg := range q.Aggregations {
			buckets, err := b.aggregate(ctx, agg, w)
			if err != nil {
				return storage.Result{}, err
			}
			res.Aggregations[agg.Name] = buckets
		}
	}
	return res, nil
}

func emptyResult(q storage.Query) storage.Result {
	res := storage.Result{}
	if len(q.Aggregations) > 0 {
		res.Aggregations = make(map[string][]storage.Bucket, len(q.Aggregations))
		for _, agg := range q.Aggregations {
			res.Aggregations[agg.Name] = []storage.Bucket{}
		}
	}
	return res
}

func (b *Backend) hits(ctx context.Context, q storage.Query, w where) ([]storage.Hit, error) {
	args := append([]any{}, w.args...)
	order := "d.seq ASC"
	if q.SortField != "" {
		args = append(args, q.SortField)
		order = fmt.Sprintf(`(SELECT MAX(t.term) FROM watch_terms t
        WHERE t.partition = d.partition AND t.doc_id = d.id AND t.field = $%d) DESC NULLS LAST, d.seq ASC`, len(args))
	}
	args = append(args, q.Size)
	query := fmt.Sprintf("SELECT d.partition, d.id, d.doc FROM watch_documents d WHERE %s ORDER BY %s LIMIT $%d",
		w.sql, order, len(args))

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: search")
	}
	defer rows.Close()

	var hits []storage.Hit
	for rows.Next() {
		var h storage.Hit
		var raw []byte
		if err := rows.Scan(&h.Partition, &h.ID, &raw); err != nil {
			return nil, errors.Wrap(err, "postgres: scan hit")
		}
		if err := json.Unmarshal(raw, &h.Source); err != nil {
			return nil, errors.Wrapf(err, "postgres: decode document %s/%s", h.Partition, h.ID)
		}
		hits = append(hits, h)
	}
	return hits, errors.Wrap(rows.Err(), "postgres: iterate hits")
}

func (b *Backend) aggregate(ctx context.Context, agg storage.TermsAggregation, w where) ([]storage.Bucket, error) {
	size := agg.Size
	if size <= 0 {
		size = storage.DefaultBuckets
	}
	args := append([]any{}, w.args...)
	args = append(args, agg.Field, size)
	query := fmt.Sprintf(`SELECT a.term, COUNT(*) FROM watch_terms a
JOIN watch_documents d ON d.partition = a.partition AND d.id = a.doc_id
WHERE a.field = $%d AND %s
GROUP BY a.term ORDER BY COUNT(*) DESC, a.term ASC LIMIT $%d`, len(args)-1, w.sql, len(args))

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "postgres: aggregate %s", agg.Field)
	}
	defer rows.Close()

	buckets := []storage.Bucket{}
	for rows.Next() {
		var bkt storage.Bucket
		if err := rows.Scan(&bkt.Key, &bkt.DocCount); err != nil {
			return nil, errors.Wrap(err, "postgres: scan bucket")
		}
		buckets = append(buckets, bkt)
	}
	return buckets, errors.Wrap(rows.Err(), "postgres: iterate buckets")
}

func (b *Backend) matchingMappings(ctx context.Context, pattern string) ([]storage.Mapping, error) {
	rows, err := b.db.QueryContext(ctx, queryListMappings, likePattern(pattern))
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list partitions")
	}
	defer rows.Close()

	var out []storage.Mapping
	for rows.Next() {
		var name string
		var raw []byte
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, errors.Wrap(err, "postgres: scan partition")
		}
		var m storage.Mapping
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrapf(err, "postgres: decode mapping %s", name)
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "postgres: iterate partitions")
}

func (b *Backend) Ping(ctx context.Context) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.db.PingContext(ctx)
}

type where struct {
	sql  string
	args []any
}

// buildWhere renders the document filter. It reports false when a filter
// cannot match anything.
func buildWhere(q storage.Query, m storage.Mapping) (where, bool) {
	w := where{args: []any{likePattern(q.Partition)}}
	clauses := []string{"d.partition LIKE $1"}

	exists := func(cond string) string {
		return "EXISTS (SELECT 1 FROM watch_terms t WHERE t.partition = d.partition AND t.doc_id = d.id AND " + cond + ")"
	}
	next := func(v any) string {
		w.args = append(w.args, v)
		return fmt.Sprintf("$%d", len(w.args))
	}

	for _, f := range q.Terms {
		terms := storage.FilterTerms(m, f)
		if len(terms) == 0 {
			return where{}, false
		}
		for _, term := range terms {
			clauses = append(clauses, exists("t.field = "+next(f.Field)+" AND t.term = "+next(term)))
		}
	}
	for _, r := range q.Ranges {
		from, to := storage.RangeBounds(r)
		cond := "t.field = " + next(r.Field)
		if from != "" {
			cond += " AND t.term >= " + next(from)
		}
		if to != "" {
			cond += " AND t.term < " + next(to)
		}
		clauses = append(clauses, exists(cond))
	}

	w.sql = strings.Join(clauses, " AND ")
	return w, true
}

// likePattern turns a partition selector into a LIKE pattern.
func likePattern(pattern string) string {
	escaped := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return escaped.Replace(prefix) + "%"
	}
	return escaped.Replace(pattern)
}

func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
