package sqlite

import (
	"context"

	"github.com/perchboard/perch/internal/auth/domain"
)

type usersRepo struct {
	db dbtx
}

func (r *usersRepo) GetUserByID(ctx context.Context, id int64) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, password_hash, role, created_at, updated_at
		FROM users WHERE id = ?`, id)

	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, password_hash, role, created_at, updated_at
		FROM users WHERE username = ? COLLATE NOCASE`, username)

	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, display_name, password_hash, role)
		VALUES (?, ?, ?, ?)`,
		u.Username, u.DisplayName, u.PasswordHash, u.Role)
	if err != nil {
		return 0, mapConstraint(err)
	}
	return res.LastInsertId()
}

func (r *usersRepo) UpdateDisplayName(ctx context.Context, userID int64, displayName string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET display_name = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, displayName, userID)
	return err
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID int64, newHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, newHash, userID)
	return err
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	return err
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}
