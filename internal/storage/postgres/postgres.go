// Package postgres implements store.Backend on PostgreSQL through the pgx
// database/sql driver, with goose-managed migrations.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"piggybank/internal/core"
	"piggybank/internal/dbx"
	"piggybank/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Repository is the PostgreSQL implementation of store.Backend.
type Repository struct {
	sqlDB *sql.DB
	db    dbx.DBTX
}

var _ store.Backend = (*Repository)(nil)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Open connects to dsn, verifies the connection and migrates the schema.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Repository {
	return &Repository{sqlDB: db, db: db}
}

func (r *Repository) Close() error {
	return r.sqlDB.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.sqlDB.PingContext(ctx)
}

const goalColumns = `id, user_id, title, target_amount, current_amount, created_at`

func scanGoal(row interface{ Scan(...any) error }) (core.SavingsGoal, error) {
	var (
		g               core.SavingsGoal
		target, current decimal.Decimal
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Title, &target, &current, &g.CreatedAt); err != nil {
		return core.SavingsGoal{}, err
	}
	g.TargetAmount = core.FromDecimal(target)
	g.CurrentAmount = core.FromDecimal(current)
	g.CreatedAt = g.CreatedAt.UTC()
	return g, nil
}

func scanDeposit(row interface{ Scan(...any) error }) (core.Deposit, error) {
	var (
		d      core.Deposit
		amount decimal.Decimal
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.GoalID, &amount, &d.CreatedAt); err != nil {
		return core.Deposit{}, err
	}
	d.Amount = core.FromDecimal(amount)
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

func (r *Repository) ListGoals(ctx context.Context, userID string) ([]core.SavingsGoal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM savings_goals
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", mapErr(err))
	}
	defer rows.Close()

	goals := make([]core.SavingsGoal, 0)
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

func (r *Repository) GetGoal(ctx context.Context, userID, id string) (core.SavingsGoal, error) {
	g, err := scanGoal(r.db.QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM savings_goals WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		return core.SavingsGoal{}, fmt.Errorf("get goal %s: %w", id, mapErr(err))
	}
	return g, nil
}

func (r *Repository) InsertGoal(ctx context.Context, ng store.NewGoal) (core.SavingsGoal, error) {
	g, err := scanGoal(r.db.QueryRowContext(ctx,
		`INSERT INTO savings_goals (user_id, title, target_amount)
		 VALUES ($1, $2, $3)
		 RETURNING `+goalColumns,
		ng.UserID, ng.Title, ng.TargetAmount.Decimal()))
	if err != nil {
		return core.SavingsGoal{}, fmt.Errorf("create goal: %w", mapErr(err))
	}
	return g, nil
}

func (r *Repository) UpdateGoal(ctx context.Context, userID, id string, p store.GoalPatch) (core.SavingsGoal, error) {
	g, err := scanGoal(r.db.QueryRowContext(ctx,
		`UPDATE savings_goals SET title = $1, target_amount = $2
		 WHERE id = $3 AND user_id = $4
		 RETURNING `+goalColumns,
		p.Title, p.TargetAmount.Decimal(), id, userID))
	if err != nil {
		return core.SavingsGoal{}, fmt.Errorf("update goal %s: %w", id, mapErr(err))
	}
	return g, nil
}

func (r *Repository) DeleteGoal(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM savings_goals WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete goal %s: %w", id, mapErr(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete goal %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (r *Repository) ListDeposits(ctx context.Context, userID string) ([]core.Deposit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, goal_id, amount, created_at FROM deposits
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", mapErr(err))
	}
	defer rows.Close()

	deposits := make([]core.Deposit, 0)
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

// InsertDeposit inserts only when the goal belongs to the user; the
// deposits_raise_goal_amount trigger raises the goal's current amount.
func (r *Repository) InsertDeposit(ctx context.Context, nd store.NewDeposit) (core.Deposit, error) {
	d, err := scanDeposit(r.db.QueryRowContext(ctx,
		`INSERT INTO deposits (user_id, goal_id, amount)
		 SELECT $1::uuid, $2::uuid, $3::numeric
		 WHERE EXISTS (SELECT 1 FROM savings_goals WHERE id = $2::uuid AND user_id = $1::uuid)
		 RETURNING id, user_id, goal_id, amount, created_at`,
		nd.UserID, nd.GoalID, nd.Amount.Decimal()))
	if err != nil {
		return core.Deposit{}, fmt.Errorf("create deposit for goal %s: %w", nd.GoalID, mapErr(err))
	}
	return d, nil
}

func (r *Repository) CreateUser(ctx context.Context, email, passwordHash string) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id, email, created_at`,
		email, passwordHash).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", mapErr(err))
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (r *Repository) getUser(ctx context.Context, where, arg string) (store.UserRecord, error) {
	var rec store.UserRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE `+where, arg).
		Scan(&rec.ID, &rec.Email, &rec.PasswordHash, &rec.CreatedAt)
	if err != nil {
		return store.UserRecord{}, mapErr(err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (r *Repository) UserByEmail(ctx context.Context, email string) (store.UserRecord, error) {
	rec, err := r.getUser(ctx, "lower(email) = lower($1)", email)
	if err != nil {
		return store.UserRecord{}, fmt.Errorf("get user by email: %w", err)
	}
	return rec, nil
}

func (r *Repository) UserByID(ctx context.Context, id string) (store.UserRecord, error) {
	rec, err := r.getUser(ctx, "id = $1", id)
	if err != nil {
		return store.UserRecord{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return rec, nil
}

func (r *Repository) UpdateUserEmail(ctx context.Context, id, email string) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET email = $1 WHERE id = $2 RETURNING id, email, created_at`, email, id).
		Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return core.User{}, fmt.Errorf("update user email: %w", mapErr(err))
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (r *Repository) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("update user password: %w", mapErr(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update user password %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// CreateSession stores the session and prunes the user's expired ones in the
// same transaction.
func (r *Repository) CreateSession(ctx context.Context, s store.SessionRecord) error {
	err := dbx.WithTx(ctx, r.sqlDB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE user_id = $1 AND expires_at <= $2`, s.UserID, s.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
			s.ID, s.UserID, s.CreatedAt, s.ExpiresAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("create session: %w", mapErr(err))
	}
	return nil
}

func (r *Repository) SessionByID(ctx context.Context, id string) (store.SessionRecord, error) {
	var s store.SessionRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return store.SessionRecord{}, fmt.Errorf("get session: %w", mapErr(err))
	}
	s.CreatedAt, s.ExpiresAt = s.CreatedAt.UTC(), s.ExpiresAt.UTC()
	return s, nil
}

func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		if errors.Is(mapErr(err), store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *Repository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// PostgreSQL error codes mapped onto store sentinels.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInvalidTextRepr     = "22P02"
)

func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		case codeForeignKeyViolation, codeInvalidTextRepr:
			// unknown parent rows and malformed ids both mean "no such row"
			return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.Message)
		}
	}
	return err
}
