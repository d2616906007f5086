package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sms-range-relay/internal/domain"
	"sms-range-relay/internal/infra/metrics"
)

// Postgres реализует реестр доступа и занятых диапазонов на pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.AccessRepo     = (*Postgres)(nil)
	_ domain.AssignmentRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS access_users (
    user_id BIGINT NOT NULL,
    role    TEXT   NOT NULL,
    PRIMARY KEY (user_id, role)
);

CREATE TABLE IF NOT EXISTS range_assignments (
    user_id        BIGINT      NOT NULL,
    range_name     TEXT        NOT NULL,
    termination_id TEXT        NOT NULL,
    added_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, range_name)
);
`

// EnsureSchema создаёт таблицы реестра, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// ListUserIDs возвращает всех пользователей с указанной ролью.
func (p *Postgres) ListUserIDs(ctx context.Context, role domain.AccessRole) ([]int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT user_id FROM access_users WHERE role = $1`, string(role))
	metrics.ObserveNetworkRequest("postgres", "list_user_ids", "access_users", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка роли %s: %w", role, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddUser добавляет пользователя в список роли.
func (p *Postgres) AddUser(ctx context.Context, userID int64, role domain.AccessRole) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO access_users (user_id, role) VALUES ($1, $2)
ON CONFLICT (user_id, role) DO NOTHING`, userID, string(role))
	metrics.ObserveNetworkRequest("postgres", "add_user", "access_users", start, err)
	return err
}

// RemoveUser убирает пользователя из списка роли.
func (p *Postgres) RemoveUser(ctx context.Context, userID int64, role domain.AccessRole) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM access_users WHERE user_id = $1 AND role = $2`, userID, string(role))
	metrics.ObserveNetworkRequest("postgres", "remove_user", "access_users", start, err)
	return err
}

// ListAssignments возвращает все записи реестра диапазонов.
func (p *Postgres) ListAssignments(ctx context.Context) ([]domain.RangeAssignment, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, range_name, termination_id, added_at
FROM range_assignments
ORDER BY added_at`)
	metrics.ObserveNetworkRequest("postgres", "list_assignments", "range_assignments", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка реестра: %w", err)
	}
	defer rows.Close()

	var out []domain.RangeAssignment
	for rows.Next() {
		var a domain.RangeAssignment
		if err := rows.Scan(&a.UserID, &a.RangeName, &a.TerminationID, &a.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UserAssignment возвращает активную запись пользователя, если она есть.
func (p *Postgres) UserAssignment(ctx context.Context, userID int64) (domain.RangeAssignment, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT user_id, range_name, termination_id, added_at
FROM range_assignments
WHERE user_id = $1
ORDER BY added_at
LIMIT 1`, userID)

	var a domain.RangeAssignment
	err := row.Scan(&a.UserID, &a.RangeName, &a.TerminationID, &a.AddedAt)
	metrics.ObserveNetworkRequest("postgres", "user_assignment", "range_assignments", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RangeAssignment{}, false, nil
	}
	if err != nil {
		return domain.RangeAssignment{}, false, fmt.Errorf("выборка записи пользователя: %w", err)
	}
	return a, true, nil
}

// CreateAssignment добавляет запись реестра.
func (p *Postgres) CreateAssignment(ctx context.Context, a domain.RangeAssignment) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if a.AddedAt.IsZero() {
		a.AddedAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO range_assignments (user_id, range_name, termination_id, added_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, range_name) DO UPDATE SET termination_id = $3, added_at = $4`,
		a.UserID, a.RangeName, a.TerminationID, a.AddedAt)
	metrics.ObserveNetworkRequest("postgres", "create_assignment", "range_assignments", start, err)
	return err
}

// DeleteAssignment убирает запись реестра. Имя диапазона сравнивается без
// учёта регистра, как и при поиске на портале.
func (p *Postgres) DeleteAssignment(ctx context.Context, userID int64, rangeName string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
DELETE FROM range_assignments
WHERE user_id = $1 AND lower(range_name) = lower($2)`, userID, rangeName)
	metrics.ObserveNetworkRequest("postgres", "delete_assignment", "range_assignments", start, err)
	return err
}

// DeleteAllAssignments очищает реестр целиком.
func (p *Postgres) DeleteAllAssignments(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM range_assignments`)
	metrics.ObserveNetworkRequest("postgres", "delete_all_assignments", "range_assignments", start, err)
	return err
}
