package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/nearby/internal/tracing"
)

// Schema creates the documents table used by PostgresStore. It is applied
// by EnsureSchema and by integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT to_timestamp(0),
	data       JSONB       NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_created_idx
	ON documents (collection, created_at DESC, id);
`

// fieldPattern restricts field paths interpolated into JSONB path literals.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ErrInvalidField is returned when a query names a field that cannot be
// safely expressed as a JSONB path.
var ErrInvalidField = errors.New("invalid field path")

// PostgresStore implements DocumentStore on a single JSONB documents table.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore on an open pool.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// Open opens a lib/pq connection pool and verifies connectivity.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the documents table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "", tracing.DBOperationSchema)
	defer func() { endSpan(err) }()

	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Put upserts a document.
func (s *PostgresStore) Put(ctx context.Context, collection string, doc Document) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, collection, tracing.DBOperationUpsert)
	defer func() { endSpan(err) }()

	id := doc.ID()
	if id == "" {
		return fmt.Errorf("document has no id")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, created_at, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, id)
		DO UPDATE SET created_at = EXCLUDED.created_at, data = EXCLUDED.data`,
		collection, id, doc.CreatedAt(), data)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// Find runs q as a single SELECT.
func (s *PostgresStore) Find(ctx context.Context, q Query) (docs []Document, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, q.Collection, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query, args, err := buildSelect(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "document query failed",
			slog.String("collection", q.Collection),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs = make([]Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", q.Collection, err)
	}
	return docs, nil
}

// FindByID returns one document or ErrNotFound.
func (s *PostgresStore) FindByID(ctx context.Context, collection, id string) (doc Document, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, collection, tracing.DBOperationQuery)
	defer func() {
		if errors.Is(err, ErrNotFound) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id)
	doc, err = scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		id        string
		createdAt time.Time
		raw       []byte
	)
	if err := row.Scan(&id, &createdAt, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	doc := Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	doc["id"] = id
	if _, ok := doc["createdAt"]; !ok {
		doc["createdAt"] = createdAt.UTC().Format(time.RFC3339Nano)
	}
	return doc, nil
}

// buildSelect translates q into SQL with positional arguments.
func buildSelect(q Query) (string, []any, error) {
	var (
		clauses = []string{"collection = $1"}
		args    = []any{q.Collection}
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, c := range q.Where {
		switch c.Op {
		case OpEq:
			expr, err := textExpr(c.Field)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, expr+" = "+next(c.Value))
		case OpIn:
			expr, err := textExpr(c.Field)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, expr+" = ANY("+next(pq.Array(c.Values))+")")
		case OpNotIn:
			if len(c.Values) == 0 {
				continue
			}
			expr, err := textExpr(c.Field)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, "COALESCE("+expr+", '') <> ALL("+next(pq.Array(c.Values))+")")
		case OpBefore:
			if c.Field == "createdAt" {
				clauses = append(clauses, "created_at < "+next(c.Time))
				continue
			}
			expr, err := textExpr(c.Field)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, "("+expr+")::timestamptz < "+next(c.Time))
		case OpMatches:
			var ors []string
			for _, f := range c.Fields {
				if !fieldPattern.MatchString(f) {
					return "", nil, fmt.Errorf("%w: %q", ErrInvalidField, f)
				}
				// Array fields are matched on their JSON text so tags and
				// categories are searchable without unnesting.
				expr := "(data #> '{" + strings.ReplaceAll(f, ".", ",") + "}')::text"
				for _, term := range c.Values {
					term = strings.TrimSpace(term)
					if term == "" {
						continue
					}
					ors = append(ors, expr+" ILIKE "+next("%"+escapeLike(term)+"%"))
				}
			}
			if len(ors) == 0 {
				clauses = append(clauses, "FALSE")
				continue
			}
			clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
		case OpNotEqFold:
			expr, err := textExpr(c.Field)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, "LOWER(COALESCE("+expr+", '')) <> LOWER("+next(c.Value)+")")
		case OpContains:
			if !fieldPattern.MatchString(c.Field) {
				return "", nil, fmt.Errorf("%w: %q", ErrInvalidField, c.Field)
			}
			arr := "COALESCE(data #> '{" + strings.ReplaceAll(c.Field, ".", ",") + "}', '[]'::jsonb)"
			p := next(c.Value)
			clauses = append(clauses, "("+arr+" @> jsonb_build_array("+p+"::text) OR "+
				arr+" @> jsonb_build_array(jsonb_build_object('id', "+p+"::text)))")
		default:
			return "", nil, fmt.Errorf("unsupported operator %d", c.Op)
		}
	}

	field, desc := q.sortField()
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	var order string
	if field == "createdAt" {
		order = "created_at " + dir + ", id ASC"
	} else {
		expr, err := textExpr(field)
		if err != nil {
			return "", nil, err
		}
		order = expr + " " + dir + " NULLS LAST, id ASC"
	}

	query := "SELECT id, created_at, data FROM documents WHERE " +
		strings.Join(clauses, " AND ") + " ORDER BY " + order
	if q.Limit > 0 {
		query += " LIMIT " + next(q.Limit)
	}
	if off := q.Offset(); off > 0 {
		query += " OFFSET " + next(off)
	}
	return query, args, nil
}

// textExpr returns the SQL expression for a field's text value. Relationship
// fields stored as embedded objects compare on their id.
func textExpr(field string) (string, error) {
	if field == "id" {
		return "id", nil
	}
	if !fieldPattern.MatchString(field) {
		return "", fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	path := strings.ReplaceAll(field, ".", ",")
	return "COALESCE(data #>> '{" + path + ",id}', data #>> '{" + path + "}')", nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
