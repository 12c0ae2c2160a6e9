package sqlite

import (
	"context"
	"time"

	"github.com/perchboard/perch/internal/auth/domain"
)

type loginAttemptsRepo struct {
	db dbtx
}

func (r *loginAttemptsRepo) RecordAttempt(ctx context.Context, a domain.LoginAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_attempts (id, identifier, origin, agent, success, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Identifier, a.Origin, a.Agent, a.Success, a.At.UTC())
	return mapConstraint(err)
}

func (r *loginAttemptsRepo) CountFailuresByIdentifier(ctx context.Context, identifier string, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE identifier = ? AND success = 0 AND at >= ?`,
		identifier, since.UTC()).Scan(&count)
	return count, err
}

func (r *loginAttemptsRepo) CountFailuresByOrigin(ctx context.Context, origin string, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE origin = ? AND success = 0 AND at >= ?`,
		origin, since.UTC()).Scan(&count)
	return count, err
}

func (r *loginAttemptsRepo) LastAttemptByIdentifier(ctx context.Context, identifier string) (domain.LoginAttempt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, identifier, origin, agent, success, at
		FROM login_attempts
		WHERE identifier = ?
		ORDER BY at DESC, id DESC
		LIMIT 1`, identifier)

	var a domain.LoginAttempt
	err := row.Scan(&a.ID, &a.Identifier, &a.Origin, &a.Agent, &a.Success, &a.At)
	if err != nil {
		return domain.LoginAttempt{}, mapNotFound(err)
	}
	return a, nil
}

func (r *loginAttemptsRepo) DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM login_attempts WHERE at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
