package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"privata/pkg/platform/sentinel"
)

const table = "entity_journal"

var columns = []string{
	"id", "op", "entity_type", "entity_id", "pseudonym", "retain_sensitive",
	"status", "COALESCE(last_error, '') AS last_error", "created_at", "updated_at",
}

// PostgresStore keeps intents in the identity database, next to the rows
// they describe.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

type intentRow struct {
	ID              string    `db:"id"`
	Op              string    `db:"op"`
	EntityType      string    `db:"entity_type"`
	EntityID        string    `db:"entity_id"`
	Pseudonym       string    `db:"pseudonym"`
	RetainSensitive bool      `db:"retain_sensitive"`
	Status          string    `db:"status"`
	LastError       string    `db:"last_error"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (s *PostgresStore) Begin(ctx context.Context, intent *Intent) error {
	query, args, err := s.builder.Insert(table).
		Columns("id", "op", "entity_type", "entity_id", "pseudonym", "retain_sensitive", "status", "created_at", "updated_at").
		Values(intent.ID, string(intent.Op), intent.EntityType, intent.EntityID, intent.Pseudonym,
			intent.RetainSensitive, string(intent.Status), intent.CreatedAt, intent.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build journal insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert journal intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Mark(ctx context.Context, id string, status Status, lastErr string, at time.Time) error {
	var lastError any
	if lastErr != "" {
		lastError = lastErr
	}
	query, args, err := s.builder.Update(table).
		Set("status", string(status)).
		Set("last_error", lastError).
		Set("updated_at", at).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build journal update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update journal intent: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// Forget clears the pseudonym and last error on every non-pending intent of
// the entity.
func (s *PostgresStore) Forget(ctx context.Context, entityType, entityID string) error {
	query, args, err := s.builder.Update(table).
		Set("pseudonym", "").
		Set("last_error", nil).
		Where(sq.Eq{"entity_type": entityType, "entity_id": entityID}).
		Where(sq.NotEq{"status": string(StatusPending)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build journal forget: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("forget journal pseudonyms: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context, entityType string, before time.Time) ([]*Intent, error) {
	return s.list(ctx, s.builder.Select(columns...).From(table).
		Where(sq.Eq{"entity_type": entityType, "status": string(StatusPending)}).
		Where(sq.Lt{"created_at": before}))
}

func (s *PostgresStore) ListGaps(ctx context.Context, entityType string) ([]*Intent, error) {
	statuses := []string{string(StatusPending), string(StatusFailed)}
	return s.list(ctx, s.builder.Select(columns...).From(table).
		Where(sq.Eq{"entity_type": entityType}).
		Where("status = ANY(?)", pq.Array(statuses)))
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]*Intent, error) {
	return s.list(ctx, s.builder.Select(columns...).From(table).
		Where(sq.Eq{"entity_type": entityType, "entity_id": entityID}))
}

func (s *PostgresStore) list(ctx context.Context, stmt sq.SelectBuilder) ([]*Intent, error) {
	query, args, err := stmt.OrderBy("created_at").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build journal query: %w", err)
	}
	var rows []intentRow
	if err := sqlscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list journal intents: %w", err)
	}
	out := make([]*Intent, 0, len(rows))
	for _, r := range rows {
		out = append(out, &Intent{
			ID:              r.ID,
			Op:              Op(r.Op),
			EntityType:      r.EntityType,
			EntityID:        r.EntityID,
			Pseudonym:       r.Pseudonym,
			RetainSensitive: r.RetainSensitive,
			Status:          Status(r.Status),
			LastError:       r.LastError,
			CreatedAt:       r.CreatedAt.UTC(),
			UpdatedAt:       r.UpdatedAt.UTC(),
		})
	}
	return out, nil
}
