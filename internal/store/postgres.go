package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/store/migrations"
)

// PostgresStore は Postgres をバックエンドとする Store です。
type PostgresStore struct {
	*PostgresRepository
	db *sql.DB
}

// OpenPostgres は DSN で接続し、疎通を確認します。
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore は既存の接続から Store を構築します。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{PostgresRepository: NewPostgresRepository(db), db: db}
}

// gooseUpContext はテスト用の差し替えポイントです。
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations は埋め込みマイグレーションを適用します。
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return withTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		return fn(ctx, NewPostgresRepository(tx))
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// PostgresRepository は DBTX 上で動く Repository 実装です。
type PostgresRepository struct {
	db DBTX
}

func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const jobColumns = `id, type, status, progress, error, metadata, webhook_url, user_id,
		lease_epoch, attempts, created_at, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job         models.Job
		errMsg      sql.NullString
		metadata    []byte
		webhookURL  sql.NullString
		userID      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&job.ID, &job.Type, &job.Status, &job.Progress, &errMsg, &metadata,
		&webhookURL, &userID, &job.LeaseEpoch, &job.Attempts, &job.CreatedAt,
		&startedAt, &completedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Error = nullString(errMsg)
	job.WebhookURL = nullString(webhookURL)
	job.UserID = nullString(userID)
	job.StartedAt = nullTime(startedAt)
	job.CompletedAt = nullTime(completedAt)
	if len(metadata) > 0 {
		job.Metadata = metadata
	}
	return &job, nil
}

func (r *PostgresRepository) CreateJob(ctx context.Context, job *models.Job) error {
	query :=
		`INSERT INTO jobs (id, type, status, progress, error, metadata, webhook_url, user_id,
		 lease_epoch, attempts, created_at, started_at, completed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	metadata := "{}"
	if len(job.Metadata) > 0 {
		metadata = string(job.Metadata)
	}
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.Type, job.Status, job.Progress, job.Error, metadata, job.WebhookURL, job.UserID,
		job.LeaseEpoch, job.Attempts, job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt)
	if err != nil {
		return dbError(err)
	}
	return nil
}

func (r *PostgresRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return r.getJob(ctx, query, id)
}

func (r *PostgresRepository) LockJob(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	return r.getJob(ctx, query, id)
}

func (r *PostgresRepository) getJob(ctx context.Context, query, id string) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, dbError(err)
	}
	return job, nil
}

func (r *PostgresRepository) UpdateJob(ctx context.Context, job *models.Job) error {
	query :=
		`UPDATE jobs SET status = $2, progress = $3, error = $4, lease_epoch = $5, attempts = $6,
		 started_at = $7, completed_at = $8, updated_at = $9
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, job.ID, job.Status, job.Progress, job.Error,
		job.LeaseEpoch, job.Attempts, job.StartedAt, job.CompletedAt, job.UpdatedAt)
	if err != nil {
		return dbError(err)
	}
	return expectAffected(res)
}

func (r *PostgresRepository) DeleteJob(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return dbError(err)
	}
	return expectAffected(res)
}

func (r *PostgresRepository) ListUserJobs(ctx context.Context, userID string, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	jobs := make([]*models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, dbError(err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return jobs, nil
}

func (r *PostgresRepository) CountJobsSince(ctx context.Context, since time.Time) (models.JobCounts, error) {
	query :=
		`SELECT COUNT(*),
		 COUNT(*) FILTER (WHERE status = 'COMPLETED'),
		 COUNT(*) FILTER (WHERE status = 'FAILED')
		 FROM jobs WHERE created_at >= $1`

	var c models.JobCounts
	if err := r.db.QueryRowContext(ctx, query, since).Scan(&c.Total, &c.Completed, &c.Failed); err != nil {
		return models.JobCounts{}, dbError(err)
	}
	return c, nil
}

const fileColumns = `id, name, original_name, size, mime_type, bucket, storage_key, type, expires_at, user_id, created_at`

func scanFile(row rowScanner) (*models.File, error) {
	var (
		f      models.File
		userID sql.NullString
	)
	if err := row.Scan(&f.ID, &f.Name, &f.OriginalName, &f.Size, &f.MimeType, &f.Bucket,
		&f.StorageKey, &f.Type, &f.ExpiresAt, &userID, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.UserID = nullString(userID)
	return &f, nil
}

func (r *PostgresRepository) CreateFile(ctx context.Context, file *models.File) error {
	query :=
		`INSERT INTO files (` + fileColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query, file.ID, file.Name, file.OriginalName, file.Size, file.MimeType,
		file.Bucket, file.StorageKey, file.Type, file.ExpiresAt, file.UserID, file.CreatedAt)
	if err != nil {
		return dbError(err)
	}
	return nil
}

func (r *PostgresRepository) GetFiles(ctx context.Context, ids []string) ([]*models.File, error) {
	if len(ids) == 0 {
		return []*models.File{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + fileColumns + ` FROM files WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	files := make([]*models.File, 0, len(ids))
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, dbError(err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return files, nil
}

func (r *PostgresRepository) DeleteFile(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return dbError(err)
	}
	return expectAffected(res)
}

func (r *PostgresRepository) CountFileLinks(ctx context.Context, fileID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_files WHERE file_id = $1`, fileID).Scan(&n); err != nil {
		return 0, dbError(err)
	}
	return n, nil
}

func (r *PostgresRepository) AddJobFile(ctx context.Context, jf models.JobFile) error {
	query := `INSERT INTO job_files (job_id, file_id, is_input, position) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, jf.JobID, jf.FileID, jf.IsInput, jf.Order); err != nil {
		return dbError(err)
	}
	return nil
}

func (r *PostgresRepository) ListJobFiles(ctx context.Context, jobID string) ([]models.JobFileDetail, error) {
	query :=
		`SELECT jf.job_id, jf.is_input, jf.position,
		 f.id, f.name, f.original_name, f.size, f.mime_type, f.bucket, f.storage_key, f.type, f.expires_at, f.user_id, f.created_at
		 FROM job_files jf
		 JOIN files f ON f.id = jf.file_id
		 WHERE jf.job_id = $1
		 ORDER BY jf.is_input DESC, jf.position ASC`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	out := make([]models.JobFileDetail, 0)
	for rows.Next() {
		var (
			d      models.JobFileDetail
			f      models.File
			userID sql.NullString
		)
		if err := rows.Scan(&d.JobID, &d.IsInput, &d.Order,
			&f.ID, &f.Name, &f.OriginalName, &f.Size, &f.MimeType, &f.Bucket, &f.StorageKey,
			&f.Type, &f.ExpiresAt, &userID, &f.CreatedAt); err != nil {
			return nil, dbError(err)
		}
		f.UserID = nullString(userID)
		d.FileID = f.ID
		d.File = &f
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return out, nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	query :=
		`INSERT INTO users (id, email, password_hash, plan, daily_usage, last_usage_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.PasswordHash, user.Plan,
		user.DailyUsage, user.LastUsageDate, user.CreatedAt)
	if err != nil {
		return dbError(err)
	}
	return nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	query :=
		`SELECT id, email, password_hash, plan, daily_usage, last_usage_date, created_at
		 FROM users WHERE id = $1`

	var (
		u        models.User
		hash     sql.NullString
		lastDate sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &hash, &u.Plan,
		&u.DailyUsage, &lastDate, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, dbError(err)
	}
	u.PasswordHash = nullString(hash)
	u.LastUsageDate = nullTime(lastDate)
	return &u, nil
}

func (r *PostgresRepository) IncrementDailyUsage(ctx context.Context, userID string, now time.Time) (*models.User, error) {
	query :=
		`UPDATE users SET
		 daily_usage = CASE
		     WHEN last_usage_date IS NOT NULL
		      AND (last_usage_date AT TIME ZONE 'UTC')::date = ($2::timestamptz AT TIME ZONE 'UTC')::date
		     THEN daily_usage + 1
		     ELSE 1
		 END,
		 last_usage_date = $2
		 WHERE id = $1
		 RETURNING daily_usage`

	var usage int
	if err := r.db.QueryRowContext(ctx, query, userID, now).Scan(&usage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, dbError(err)
	}
	return r.GetUser(ctx, userID)
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func dbError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("db error: %w", err)
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
