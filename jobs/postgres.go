package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	// Postgres driver registration happens in main.
)

// PostgresStore backs the Store interface with Postgres. Job-level
// critical sections map onto row locks (SELECT ... FOR UPDATE), which is
// what makes the "last sibling in" completion decision safe across
// workers on different hosts.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id UUID PRIMARY KEY,
	template_id UUID,
	settings JSONB,
	progress INT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'not_started',
	input_url TEXT NOT NULL,
	output_url TEXT NOT NULL,
	webhook_url TEXT,
	encryption_key TEXT,
	key_url TEXT,
	meta_data JSONB,
	start_time TIMESTAMPTZ,
	end_time TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS outputs (
	id UUID PRIMARY KEY,
	job_id UUID NOT NULL REFERENCES jobs (id),
	name TEXT NOT NULL,
	video_codec TEXT,
	video_bitrate INT,
	video_preset TEXT,
	audio_codec TEXT,
	audio_bitrate INT,
	width INT,
	height INT,
	settings JSONB,
	status TEXT NOT NULL DEFAULT 'not_started',
	progress INT NOT NULL DEFAULT 0,
	task_id TEXT,
	error_message TEXT,
	start_time TIMESTAMPTZ,
	end_time TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS outputs_job_id_idx ON outputs (job_id);
CREATE TABLE IF NOT EXISTS job_templates (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	format TEXT NOT NULL,
	segment_length INT,
	playlist_type TEXT,
	outputs JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables if they don't exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const jobColumns = "id, template_id, settings, progress, status, input_url, output_url, webhook_url, encryption_key, key_url, meta_data, start_time, end_time, created_at"

func (s *PostgresStore) CreateJob(ctx context.Context, job *Job) error {
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal job settings: %w", err)
	}
	metaData, err := json.Marshal(job.MetaData)
	if err != nil {
		return fmt.Errorf("failed to marshal job meta_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, template_id, settings, progress, status, input_url, output_url, webhook_url, encryption_key, key_url, meta_data, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.TemplateID, settings, job.Progress, job.Status, job.InputURL, job.OutputURL,
		job.WebhookURL, job.EncryptionKey, job.KeyURL, metaData, job.StartTime, job.EndTime)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id)
	return scanJob(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job           Job
		settings      []byte
		metaData      []byte
		webhookURL    sql.NullString
		encryptionKey sql.NullString
		keyURL        sql.NullString
		startTime     sql.NullTime
		endTime       sql.NullTime
	)
	err := row.Scan(&job.ID, &job.TemplateID, &settings, &job.Progress, &job.Status, &job.InputURL,
		&job.OutputURL, &webhookURL, &encryptionKey, &keyURL, &metaData, &startTime, &endTime, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job row: %w", err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &job.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job settings: %w", err)
		}
	}
	if len(metaData) > 0 {
		if err := json.Unmarshal(metaData, &job.MetaData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job meta_data: %w", err)
		}
	}
	job.WebhookURL = webhookURL.String
	job.EncryptionKey = encryptionKey.String
	job.KeyURL = keyURL.String
	if startTime.Valid {
		job.StartTime = &startTime.Time
	}
	if endTime.Valid {
		job.EndTime = &endTime.Time
	}
	return &job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *Job) error {
	return updateJob(ctx, s.db, job)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func updateJob(ctx context.Context, db execer, job *Job) error {
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal job settings: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`UPDATE jobs SET settings = $2, progress = $3, status = $4, start_time = $5, end_time = $6 WHERE id = $1`,
		job.ID, settings, job.Progress, job.Status, job.StartTime, job.EndTime)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const outputColumns = "id, job_id, name, video_codec, video_bitrate, video_preset, audio_codec, audio_bitrate, width, height, settings, status, progress, task_id, error_message, start_time, end_time, created_at"

func (s *PostgresStore) CreateOutput(ctx context.Context, output *Output) error {
	settings, err := json.Marshal(output.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal output settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outputs (id, job_id, name, video_codec, video_bitrate, video_preset, audio_codec, audio_bitrate, width, height, settings, status, progress, task_id, error_message, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		output.ID, output.JobID, output.Name, output.VideoCodec, output.VideoBitrate, output.VideoPreset,
		output.AudioCodec, output.AudioBitrate, output.Width, output.Height, settings, output.Status,
		output.Progress, output.TaskID, output.ErrorMessage, output.StartTime, output.EndTime)
	if err != nil {
		return fmt.Errorf("failed to insert output %s: %w", output.ID, err)
	}
	return nil
}

func scanOutput(row rowScanner) (*Output, error) {
	var (
		output       Output
		settings     []byte
		taskID       sql.NullString
		errorMessage sql.NullString
		startTime    sql.NullTime
		endTime      sql.NullTime
	)
	err := row.Scan(&output.ID, &output.JobID, &output.Name, &output.VideoCodec, &output.VideoBitrate,
		&output.VideoPreset, &output.AudioCodec, &output.AudioBitrate, &output.Width, &output.Height,
		&settings, &output.Status, &output.Progress, &taskID, &errorMessage, &startTime, &endTime, &output.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("output: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan output row: %w", err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &output.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output settings: %w", err)
		}
	}
	output.TaskID = taskID.String
	output.ErrorMessage = errorMessage.String
	if startTime.Valid {
		output.StartTime = &startTime.Time
	}
	if endTime.Valid {
		output.EndTime = &endTime.Time
	}
	return &output, nil
}

func (s *PostgresStore) GetOutput(ctx context.Context, id uuid.UUID) (*Output, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+outputColumns+" FROM outputs WHERE id = $1", id)
	return scanOutput(row)
}

func (s *PostgresStore) UpdateOutput(ctx context.Context, output *Output) error {
	settings, err := json.Marshal(output.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal output settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE outputs SET settings = $2, status = $3, progress = $4, task_id = $5, error_message = $6, start_time = $7, end_time = $8 WHERE id = $1`,
		output.ID, settings, output.Status, output.Progress, output.TaskID, output.ErrorMessage,
		output.StartTime, output.EndTime)
	if err != nil {
		return fmt.Errorf("failed to update output %s: %w", output.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListOutputs(ctx context.Context, jobID uuid.UUID) ([]*Output, error) {
	return listOutputs(ctx, s.db, jobID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func listOutputs(ctx context.Context, db queryer, jobID uuid.UUID) ([]*Output, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+outputColumns+" FROM outputs WHERE job_id = $1 ORDER BY created_at ASC", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outputs for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var outputs []*Output
	for rows.Next() {
		output, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, output)
	}
	return outputs, rows.Err()
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id uuid.UUID) (*JobTemplate, error) {
	var (
		template      JobTemplate
		segmentLength sql.NullInt64
		playlistType  sql.NullString
		outputs       []byte
	)
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, format, segment_length, playlist_type, outputs, created_at FROM job_templates WHERE id = $1", id)
	err := row.Scan(&template.ID, &template.Name, &template.Format, &segmentLength, &playlistType, &outputs, &template.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan template row: %w", err)
	}
	template.SegmentLength = int(segmentLength.Int64)
	template.PlaylistType = PlaylistType(playlistType.String)
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &template.Outputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template outputs: %w", err)
		}
	}
	return &template, nil
}

func (s *PostgresStore) WithJobLock(ctx context.Context, id uuid.UUID, fn func(job *Job, outputs []*Output) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin job lock tx: %w", err)
	}
	// nolint:errcheck
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1 FOR UPDATE", id)
	job, err := scanJob(row)
	if err != nil {
		return err
	}
	outputs, err := listOutputs(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := fn(job, outputs); err != nil {
		return err
	}
	if err := updateJob(ctx, tx, job); err != nil {
		return err
	}
	return tx.Commit()
}
