package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"privata/internal/entity/models"
	"privata/pkg/platform/sentinel"
	pkgstrings "privata/pkg/platform/strings"
)

const (
	table            = "identity_records"
	uniqueViolation  = "23505"
	returningColumns = "RETURNING id, pseudonym, fields, created_at, updated_at"
)

var columns = []string{"id", "pseudonym", "fields", "created_at", "updated_at"}

// PostgresStore persists one entity type's identity records in PostgreSQL.
// All entity types share the identity_records table, partitioned by
// entity_type.
type PostgresStore struct {
	db         *sql.DB
	entityType string
	builder    sq.StatementBuilderType
}

// NewPostgres constructs a PostgreSQL-backed identity store for entityType.
func NewPostgres(db *sql.DB, entityType string) *PostgresStore {
	return &PostgresStore{
		db:         db,
		entityType: entityType,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

type identityRow struct {
	ID        string    `db:"id"`
	Pseudonym string    `db:"pseudonym"`
	Fields    []byte    `db:"fields"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.IdentityRecord, error) {
	query, args, err := s.builder.Select(columns...).From(table).
		Where(sq.Eq{"entity_type": s.entityType, "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find identity query: %w", err)
	}
	var row identityRow
	if err := sqlscan.Get(ctx, s.db, &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find identity record: %w", err)
	}
	return toRecord(row)
}

// FindMany returns records whose fields equal every filter value. Values are
// compared as JSONB, so 1 and 1.0 match.
func (s *PostgresStore) FindMany(ctx context.Context, q models.Query) ([]*models.IdentityRecord, error) {
	stmt := s.builder.Select(columns...).From(table).
		Where(sq.Eq{"entity_type": s.entityType}).
		OrderBy("created_at", "id")
	for _, key := range pkgstrings.SortedKeys(q.Filters) {
		raw, err := json.Marshal(q.Filters[key])
		if err != nil {
			return nil, fmt.Errorf("encode filter %q: %w", key, err)
		}
		stmt = stmt.Where(sq.Expr("fields -> ?::text = ?::jsonb", key, string(raw)))
	}
	if q.Limit > 0 {
		stmt = stmt.Limit(uint64(q.Limit))
	}
	query, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find identity query: %w", err)
	}
	var rows []identityRow
	if err := sqlscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("find identity records: %w", err)
	}
	out := make([]*models.IdentityRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := toRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	query, args, err := s.builder.Select("1").From(table).
		Where(sq.Eq{"entity_type": s.entityType, "id": id}).
		Prefix("SELECT EXISTS (").Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build identity exists query: %w", err)
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check identity record: %w", err)
	}
	return exists, nil
}

// Create inserts rec, assigning an id when rec has none.
func (s *PostgresStore) Create(ctx context.Context, rec *models.IdentityRecord) (*models.IdentityRecord, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	raw, err := encodeFields(rec.Fields)
	if err != nil {
		return nil, err
	}
	query, args, err := s.builder.Insert(table).
		Columns("entity_type", "id", "pseudonym", "fields", "created_at", "updated_at").
		Values(s.entityType, id, rec.Pseudonym, sq.Expr("?::jsonb", raw), rec.CreatedAt, rec.UpdatedAt).
		Suffix(returningColumns).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert identity query: %w", err)
	}
	var row identityRow
	if err := sqlscan.Get(ctx, s.db, &row, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("insert identity record: %w", err)
	}
	return toRecord(row)
}

// Update merges patch.Set into the stored fields and removes patch.Unset in
// a single statement.
func (s *PostgresStore) Update(ctx context.Context, id string, patch models.Patch) (*models.IdentityRecord, error) {
	raw, err := encodeFields(patch.Set)
	if err != nil {
		return nil, err
	}
	unset := append([]string{}, patch.Unset...)
	query, args, err := s.builder.Update(table).
		Set("fields", sq.Expr("(fields || ?::jsonb) - ?::text[]", raw, pq.Array(unset))).
		Set("updated_at", patch.UpdatedAt).
		Where(sq.Eq{"entity_type": s.entityType, "id": id}).
		Suffix(returningColumns).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update identity query: %w", err)
	}
	var row identityRow
	if err := sqlscan.Get(ctx, s.db, &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("update identity record: %w", err)
	}
	return toRecord(row)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query, args, err := s.builder.Delete(table).
		Where(sq.Eq{"entity_type": s.entityType, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete identity query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete identity record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete identity record: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode identity fields: %w", err)
	}
	return string(raw), nil
}

func toRecord(row identityRow) (*models.IdentityRecord, error) {
	fields := map[string]any{}
	if len(row.Fields) > 0 {
		if err := json.Unmarshal(row.Fields, &fields); err != nil {
			return nil, fmt.Errorf("decode identity fields: %w", err)
		}
	}
	return &models.IdentityRecord{
		ID:        row.ID,
		Pseudonym: row.Pseudonym,
		Fields:    fields,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}
