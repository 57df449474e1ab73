package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blueberrycongee/agentgate/internal/provider"
	"github.com/blueberrycongee/agentgate/internal/ratelimit"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// schema is run once on open.
	schema string
	// positional rewrites ? placeholders to $1, $2 ...
	positional bool
	// lockRow appends a row lock to the rate-limit read.
	lockRow string
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect

	// writeMu serializes rate-limit transactions where the database has no
	// row locks.
	writeMu *sync.Mutex
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, serialize bool) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s schema: %w", d.name, err)
	}
	s := &SQLStore{db: db, dialect: d}
	if serialize {
		s.writeMu = &sync.Mutex{}
	}
	return s, nil
}

// DB exposes the connection pool.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) q(query string) string {
	if !s.dialect.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// CreateJob implements jobs.Store.
func (s *SQLStore) CreateJob(ctx context.Context, job *types.Job) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO jobs (id, name, user_id, provider, model, status, created_at,
		                  duration, input_tokens, output_tokens, client_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID, job.Name, job.UserID, job.Provider, job.Model, string(job.Status),
		job.CreatedAt.UTC(), nullInt64(job.DurationMs), job.InputTokens, job.OutputTokens,
		job.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob implements jobs.Store.
func (s *SQLStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var (
		job      types.Job
		status   string
		duration sql.NullInt64
		clientIP sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, name, user_id, provider, model, status, created_at,
		       duration, input_tokens, output_tokens, client_ip
		FROM jobs WHERE id = ?`), id).Scan(
		&job.ID, &job.Name, &job.UserID, &job.Provider, &job.Model, &status,
		&job.CreatedAt, &duration, &job.InputTokens, &job.OutputTokens, &clientIP,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	job.Status = types.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	if duration.Valid {
		job.DurationMs = &duration.Int64
	}
	job.ClientIP = clientIP.String
	return &job, nil
}

func (s *SQLStore) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", what, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateJobStatus implements jobs.Store.
func (s *SQLStore) UpdateJobStatus(ctx context.Context, id string, status types.JobStatus) error {
	return s.execOne(ctx, "status", `UPDATE jobs SET status = ? WHERE id = ?`, string(status), id)
}

// UpdateJobDuration implements jobs.Store.
func (s *SQLStore) UpdateJobDuration(ctx context.Context, id string, durationMs int64) error {
	return s.execOne(ctx, "duration", `UPDATE jobs SET duration = ? WHERE id = ?`, durationMs, id)
}

// UpdateJobTokens implements jobs.Store.
func (s *SQLStore) UpdateJobTokens(ctx context.Context, id string, input, output int) error {
	return s.execOne(ctx, "tokens",
		`UPDATE jobs SET input_tokens = ?, output_tokens = ? WHERE id = ?`, input, output, id)
}

const providerColumns = `id, name, provider_type, api_key, api_url, organization_id, is_active`

func scanProvider(row interface{ Scan(...any) error }) (provider.Record, error) {
	var (
		rec         provider.Record
		typ         string
		apiURL, org sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Name, &typ, &rec.APIKey, &apiURL, &org, &rec.Active); err != nil {
		return rec, err
	}
	rec.Type = provider.Type(typ)
	rec.APIURL = apiURL.String
	rec.OrganizationID = org.String
	return rec, nil
}

// ActiveProviderConfig implements provider.ConfigSource.
func (s *SQLStore) ActiveProviderConfig(ctx context.Context, t provider.Type) (*provider.Record, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+providerColumns+`
		FROM provider_configs
		WHERE provider_type = ? AND is_active = ?
		ORDER BY updated_at DESC
		LIMIT 1`), string(t), true)
	rec, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query provider config: %w", err)
	}
	return &rec, nil
}

// UpsertProviderConfig implements Store.
func (s *SQLStore) UpsertProviderConfig(ctx context.Context, rec *provider.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if rec.Active {
		if _, err := tx.ExecContext(ctx, s.q(`
			UPDATE provider_configs SET is_active = ?
			WHERE provider_type = ? AND id <> ?`), false, string(rec.Type), rec.ID); err != nil {
			return fmt.Errorf("deactivate provider configs: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO provider_configs (`+providerColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			provider_type = excluded.provider_type,
			api_key = excluded.api_key,
			api_url = excluded.api_url,
			organization_id = excluded.organization_id,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`),
		rec.ID, rec.Name, string(rec.Type), rec.APIKey, nullString(rec.APIURL),
		nullString(rec.OrganizationID), rec.Active, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("upsert provider config: %w", err)
	}
	return tx.Commit()
}

// ListProviderConfigs implements Store.
func (s *SQLStore) ListProviderConfigs(ctx context.Context) ([]provider.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+providerColumns+`
		FROM provider_configs
		ORDER BY is_active DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query provider configs: %w", err)
	}
	defer rows.Close()

	var out []provider.Record
	for rows.Next() {
		rec, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider config: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Mutate implements ratelimit.StateStore. The row is created from defaults
// when missing, then read and written back inside one transaction.
func (s *SQLStore) Mutate(ctx context.Context, clientID string, defaults ratelimit.Limits, fn func(*ratelimit.State) error) (ratelimit.State, error) {
	if s.writeMu != nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ratelimit.State{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO client_limits (client_id, rpm_limit, tpm_limit, current_rpm, current_tpm, window_start)
		VALUES (?, ?, ?, 0, 0, 0)
		ON CONFLICT (client_id) DO NOTHING`), clientID, defaults.RPM, defaults.TPM); err != nil {
		return ratelimit.State{}, fmt.Errorf("insert client limits: %w", err)
	}

	var (
		st       = ratelimit.State{ClientID: clientID}
		windowMs int64
	)
	if err := tx.QueryRowContext(ctx, s.q(`
		SELECT rpm_limit, tpm_limit, current_rpm, current_tpm, window_start
		FROM client_limits WHERE client_id = ?`+s.dialect.lockRow), clientID).Scan(
		&st.RPMLimit, &st.TPMLimit, &st.CurrentRPM, &st.CurrentTPM, &windowMs,
	); err != nil {
		return ratelimit.State{}, fmt.Errorf("select client limits: %w", err)
	}
	if windowMs > 0 {
		st.WindowStart = time.UnixMilli(windowMs)
	}

	prev := st
	if err := fn(&st); err != nil {
		return prev, err
	}

	windowMs = 0
	if !st.WindowStart.IsZero() {
		windowMs = st.WindowStart.UnixMilli()
	}
	if _, err := tx.ExecContext(ctx, s.q(`
		UPDATE client_limits
		SET rpm_limit = ?, tpm_limit = ?, current_rpm = ?, current_tpm = ?, window_start = ?
		WHERE client_id = ?`),
		st.RPMLimit, st.TPMLimit, st.CurrentRPM, st.CurrentTPM, windowMs, clientID,
	); err != nil {
		return ratelimit.State{}, fmt.Errorf("update client limits: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ratelimit.State{}, fmt.Errorf("commit client limits: %w", err)
	}
	return st, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
