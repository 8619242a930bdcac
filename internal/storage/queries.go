package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"piggybank/internal/dbx"
)

// Queries holds the SQL of the SQLite backend. It runs against either the
// database handle or a transaction.
type Queries struct {
	db dbx.DBTX
}

func New(db dbx.DBTX) *Queries {
	return &Queries{db: db}
}

type goalRow struct {
	ID                 string
	UserID             string
	Title              string
	TargetAmountCents  int64
	CurrentAmountCents int64
	CreatedAt          int64
}

type depositRow struct {
	ID          string
	UserID      string
	GoalID      string
	AmountCents int64
	CreatedAt   int64
}

type userRow struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    int64
}

type sessionRow struct {
	ID        string
	UserID    string
	CreatedAt int64
	ExpiresAt int64
}

const goalColumns = `id, user_id, title, target_amount_cents, current_amount_cents, created_at`

func scanGoal(row interface{ Scan(...any) error }) (goalRow, error) {
	var g goalRow
	err := row.Scan(&g.ID, &g.UserID, &g.Title, &g.TargetAmountCents, &g.CurrentAmountCents, &g.CreatedAt)
	return g, err
}

func (q *Queries) ListGoalsByUser(ctx context.Context, userID string) ([]goalRow, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM savings_goals WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []goalRow
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (q *Queries) GetGoal(ctx context.Context, userID, id string) (goalRow, error) {
	return scanGoal(q.db.QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM savings_goals WHERE id = ? AND user_id = ?`, id, userID))
}

func (q *Queries) CreateGoal(ctx context.Context, g goalRow) (goalRow, error) {
	return scanGoal(q.db.QueryRowContext(ctx,
		`INSERT INTO savings_goals (id, user_id, title, target_amount_cents, current_amount_cents, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)
		 RETURNING `+goalColumns,
		g.ID, g.UserID, g.Title, g.TargetAmountCents, g.CreatedAt))
}

func (q *Queries) UpdateGoal(ctx context.Context, userID, id, title string, targetCents int64) (goalRow, error) {
	return scanGoal(q.db.QueryRowContext(ctx,
		`UPDATE savings_goals SET title = ?, target_amount_cents = ?
		 WHERE id = ? AND user_id = ?
		 RETURNING `+goalColumns,
		title, targetCents, id, userID))
}

func (q *Queries) DeleteGoal(ctx context.Context, userID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM savings_goals WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) ListDepositsByUser(ctx context.Context, userID string) ([]depositRow, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, user_id, goal_id, amount_cents, created_at FROM deposits
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []depositRow
	for rows.Next() {
		var d depositRow
		if err := rows.Scan(&d.ID, &d.UserID, &d.GoalID, &d.AmountCents, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateDeposit inserts only when the goal belongs to the depositing user.
// The trigger on deposits raises the goal's current amount.
func (q *Queries) CreateDeposit(ctx context.Context, d depositRow) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO deposits (id, user_id, goal_id, amount_cents, created_at)
		 SELECT ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM savings_goals WHERE id = ? AND user_id = ?)`,
		d.ID, d.UserID, d.GoalID, d.AmountCents, d.CreatedAt, d.GoalID, d.UserID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) CreateUser(ctx context.Context, u userRow) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	return err
}

func (q *Queries) getUser(ctx context.Context, where string, arg string) (userRow, error) {
	var u userRow
	err := q.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (userRow, error) {
	return q.getUser(ctx, "email = ?", email)
}

func (q *Queries) GetUserByID(ctx context.Context, id string) (userRow, error) {
	return q.getUser(ctx, "id = ?", id)
}

func (q *Queries) UpdateUserEmail(ctx context.Context, id, email string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE users SET email = ? WHERE id = ?`, email, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) UpdateUserPassword(ctx context.Context, id, hash string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) CreateSession(ctx context.Context, s sessionRow) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.UserID, s.CreatedAt, s.ExpiresAt)
	return err
}

func (q *Queries) GetSession(ctx context.Context, id string) (sessionRow, error) {
	var s sessionRow
	err := q.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	return s, err
}

func (q *Queries) DeleteSession(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (q *Queries) DeleteExpiredSessions(ctx context.Context, before int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeleteExpiredUserSessions(ctx context.Context, userID string, before int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ? AND expires_at <= ?`, userID, before)
	return err
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
