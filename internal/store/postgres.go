package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// selectUser joins the three question slots against the catalog. A LEFT JOIN
// keeps the user row when a catalog entry is missing so callers can detect it.
const selectUser = `
	SELECT u.id, u.name, u.email, u.password, u.role, u.is_active, u.avatar, u.auth_type,
		u.created_at, u.updated_at, u.last_login,
		u.secret_question_1_id, COALESCE(q1.question, ''), u.secret_answer_1,
		u.secret_question_2_id, COALESCE(q2.question, ''), u.secret_answer_2,
		u.secret_question_3_id, COALESCE(q3.question, ''), u.secret_answer_3
	FROM users u
	LEFT JOIN secret_questions q1 ON q1.id = u.secret_question_1_id
	LEFT JOIN secret_questions q2 ON q2.id = u.secret_question_2_id
	LEFT JOIN secret_questions q3 ON q3.id = u.secret_question_3_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		user      User
		lastLogin sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.IsActive, &user.Avatar, &user.AuthType,
		&user.CreatedAt, &user.UpdatedAt, &lastLogin,
		&user.Secrets[0].QuestionID, &user.Secrets[0].Question, &user.Secrets[0].AnswerHash,
		&user.Secrets[1].QuestionID, &user.Secrets[1].Question, &user.Secrets[1].AnswerHash,
		&user.Secrets[2].QuestionID, &user.Secrets[2].Question, &user.Secrets[2].AnswerHash,
	)
	if err != nil {
		return User{}, err
	}
	if lastLogin.Valid {
		at := lastLogin.Time
		user.LastLogin = &at
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE u.email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE u.id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, name, email, password, role, is_active, avatar, auth_type, created_at, updated_at,
			secret_question_1_id, secret_answer_1,
			secret_question_2_id, secret_answer_2,
			secret_question_3_id, secret_answer_3
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10, $11, $12, $13, $14, $15)
	`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.IsActive, user.Avatar, user.AuthType, user.CreatedAt,
		user.Secrets[0].QuestionID, user.Secrets[0].AnswerHash,
		user.Secrets[1].QuestionID, user.Secrets[1].AnswerHash,
		user.Secrets[2].QuestionID, user.Secrets[2].AnswerHash,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UpdateUserPassword overwrites the password digest. Concurrent resets are
// last-writer-wins.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET password=$2, updated_at=$3 WHERE id=$1`, userID, passwordHash, updatedAt)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateUserAvatar(ctx context.Context, userID, avatar string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET avatar=$2, updated_at=NOW() WHERE id=$1`, userID, avatar)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET last_login=$2 WHERE id=$1`, userID, at)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, userID string, update UserUpdate) error {
	sets := make([]string, 0, 6)
	args := []any{userID}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Email != nil {
		add("email", *update.Email)
	}
	if update.IsActive != nil {
		add("is_active", *update.IsActive)
	}
	if update.Role != nil {
		add("role", *update.Role)
	}
	if update.PasswordHash != nil {
		add("password", *update.PasswordHash)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at=NOW()")

	result, err := s.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ListUsers(ctx context.Context, params ListUsersParams) (UserPage, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = 10
	}
	pattern := "%" + strings.TrimSpace(params.Search) + "%"
	const filter = ` WHERE ($1 = '%%' OR u.name ILIKE $1 OR u.email ILIKE $1)`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users u`+filter, pattern).Scan(&total); err != nil {
		return UserPage{}, fmt.Errorf("count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectUser+filter+` ORDER BY u.created_at DESC LIMIT $2 OFFSET $3`,
		pattern, params.Limit, (params.Page-1)*params.Limit)
	if err != nil {
		return UserPage{}, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, params.Limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return UserPage{}, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return UserPage{}, fmt.Errorf("iterate users: %w", err)
	}
	return UserPage{Users: users, Total: total, Page: params.Page, Limit: params.Limit}, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email=$1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListSecretQuestions(ctx context.Context) ([]SecretQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, question FROM secret_questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list secret questions: %w", err)
	}
	defer rows.Close()

	items := make([]SecretQuestion, 0)
	for rows.Next() {
		var item SecretQuestion
		if err := rows.Scan(&item.ID, &item.Question); err != nil {
			return nil, fmt.Errorf("scan secret question: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate secret questions: %w", err)
	}
	return items, nil
}

// SeedSecretQuestions inserts the given questions when the catalog is empty
// and reports how many rows were added.
func (s *PostgresStore) SeedSecretQuestions(ctx context.Context, questions []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM secret_questions`).Scan(&existing); err != nil {
		return 0, fmt.Errorf("count secret questions: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	inserted := 0
	for _, question := range questions {
		question = strings.TrimSpace(question)
		if question == "" {
			continue
		}
		result, err := tx.ExecContext(ctx, `INSERT INTO secret_questions (question) VALUES ($1) ON CONFLICT (question) DO NOTHING`, question)
		if err != nil {
			return 0, fmt.Errorf("insert secret question: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed tx: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
