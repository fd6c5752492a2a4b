package store

import (
	"context"
	"fmt"

	"formpredict/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	sf "github.com/snowflakedb/gosnowflake"
)

const createPredictionsTable = `
	CREATE TABLE IF NOT EXISTS predictions (
		id VARCHAR(36) PRIMARY KEY,
		model VARCHAR(64) NOT NULL,
		artifact_version VARCHAR(64) NOT NULL,
		features TEXT NOT NULL,
		prediction DOUBLE PRECISION NOT NULL,
		result_text TEXT NOT NULL,
		cached BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`

// Columns are aliased with quoted lower-case names so that drivers which
// upper-case unquoted identifiers still map onto the db tags.
const selectPredictions = `
	SELECT
		id AS "id",
		model AS "model",
		artifact_version AS "artifact_version",
		features AS "features",
		prediction AS "prediction",
		result_text AS "result_text",
		cached AS "cached",
		created_at AS "created_at"
	FROM predictions
	WHERE model = ?
	ORDER BY created_at DESC
	LIMIT %d`

const insertPrediction = `
	INSERT INTO predictions (
		id, model, artifact_version, features,
		prediction, result_text, cached, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// SQLRecorder stores history through database/sql drivers (postgres,
// snowflake).
type SQLRecorder struct {
	db *sqlx.DB
}

func NewSQLRecorder(ctx context.Context, driver, dsn string) (*SQLRecorder, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect %s history: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, createPredictionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create predictions table: %w", err)
	}
	return &SQLRecorder{db: db}, nil
}

func (r *SQLRecorder) Save(ctx context.Context, rec PredictionRecord) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(insertPrediction),
		rec.ID, rec.Model, rec.ArtifactVersion, rec.Features,
		rec.Prediction, rec.ResultText, rec.Cached, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

func (r *SQLRecorder) Recent(ctx context.Context, model string, limit int) ([]PredictionRecord, error) {
	var records []PredictionRecord
	query := r.db.Rebind(fmt.Sprintf(selectPredictions, ClampLimit(limit)))
	if err := r.db.SelectContext(ctx, &records, query, model); err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return records, nil
}

func (r *SQLRecorder) Close() error {
	return r.db.Close()
}

func SnowflakeDSN(c config.Snowflake) (string, error) {
	if c.Account == "" || c.User == "" {
		return "", fmt.Errorf("history backend snowflake requires SNOWFLAKE_ACCOUNT and SNOWFLAKE_USER")
	}
	return sf.DSN(&sf.Config{
		Account:   c.Account,
		User:      c.User,
		Password:  c.Password,
		Database:  c.Database,
		Schema:    c.Schema,
		Warehouse: c.Warehouse,
	})
}
