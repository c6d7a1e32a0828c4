package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, username, role, tier, credits, email, telegram_chat_id, created_at`

// CreateUser inserts u and fills in its id and creation time.
// Returns ErrUsernameTaken if the username is already in use.
func (q *Queries) CreateUser(u *User) error {
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	if !u.Role.Valid() {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	if !u.Tier.Valid() {
		return fmt.Errorf("invalid tier %q", u.Tier)
	}

	u.CreatedAt = time.Now().UTC()
	res, err := q.q.Exec(`
		INSERT INTO users (username, role, tier, credits, email, telegram_chat_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.Username, string(u.Role), string(u.Tier), u.Credits, u.Email, u.TelegramChatID, formatTime(u.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("creating user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting user id: %w", err)
	}
	u.ID = id
	return nil
}

// GetUser retrieves a user by id.
func (q *Queries) GetUser(id int64) (*User, error) {
	row := q.q.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByName retrieves a user by username.
func (q *Queries) GetUserByName(username string) (*User, error) {
	row := q.q.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// ListUsers returns all users ordered by id.
func (q *Queries) ListUsers() ([]*User, error) {
	rows, err := q.q.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// ListAdmins returns all admin users ordered by id.
func (q *Queries) ListAdmins() ([]*User, error) {
	rows, err := q.q.Query(`SELECT `+userColumns+` FROM users WHERE role = ? ORDER BY id ASC`, string(RoleAdmin))
	if err != nil {
		return nil, fmt.Errorf("querying admins: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// CountUsers returns the number of users.
func (q *Queries) CountUsers() (int, error) {
	var n int
	if err := q.q.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// CountAdmins returns the number of admin users.
func (q *Queries) CountAdmins() (int, error) {
	var n int
	if err := q.q.QueryRow(`SELECT COUNT(*) FROM users WHERE role = ?`, string(RoleAdmin)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return n, nil
}

// GetCredits reads the current balance of a user.
func (q *Queries) GetCredits(userID int64) (int64, error) {
	var credits int64
	err := q.q.QueryRow(`SELECT credits FROM users WHERE id = ?`, userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading credits: %w", err)
	}
	return credits, nil
}

// SetCredits overwrites a user's balance.
func (q *Queries) SetCredits(userID, credits int64) error {
	if credits < 0 {
		return fmt.Errorf("credits must be non-negative")
	}
	res, err := q.q.Exec(`UPDATE users SET credits = ? WHERE id = ?`, credits, userID)
	if err != nil {
		return fmt.Errorf("setting credits: %w", err)
	}
	return requireOneRow(res, ErrUserNotFound)
}

// DebitCredits subtracts amount from a positive balance that covers it and
// returns the new balance. The check and the write are a single statement.
func (q *Queries) DebitCredits(userID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive")
	}
	res, err := q.q.Exec(`
		UPDATE users SET credits = credits - ?
		WHERE id = ? AND credits > 0 AND credits >= ?
	`, amount, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("debiting credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		if _, err := q.GetCredits(userID); err != nil {
			return 0, err
		}
		return 0, ErrInsufficientCredits
	}
	return q.GetCredits(userID)
}

// UpdateUserProfile sets the tier and contact fields of a user.
func (q *Queries) UpdateUserProfile(u *User) error {
	if !u.Tier.Valid() {
		return fmt.Errorf("invalid tier %q", u.Tier)
	}
	res, err := q.q.Exec(`
		UPDATE users SET tier = ?, email = ?, telegram_chat_id = ? WHERE id = ?
	`, string(u.Tier), u.Email, u.TelegramChatID, u.ID)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return requireOneRow(res, ErrUserNotFound)
}

// DeleteUser removes a user. Their commands and votes cascade, and audit
// entries keep their history with a null user reference.
func (q *Queries) DeleteUser(id int64) error {
	res, err := q.q.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return requireOneRow(res, ErrUserNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		role      string
		tier      string
		createdAt string
	)
	err := row.Scan(&u.ID, &u.Username, &role, &tier, &u.Credits, &u.Email, &u.TelegramChatID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Role = Role(role)
	u.Tier = Tier(tier)
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]*User, error) {
	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}
