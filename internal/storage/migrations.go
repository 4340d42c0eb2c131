package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Core screening schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					case_no TEXT UNIQUE,
					title TEXT,
					status TEXT NOT NULL DEFAULT 'draft',
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS transaction_items (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id INTEGER NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
					item_name TEXT,
					item_model TEXT,
					spec_text TEXT,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transaction_items_transaction ON transaction_items(transaction_id)`,

				`CREATE TABLE IF NOT EXISTS usage_requirements (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id INTEGER NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
					source TEXT NOT NULL,
					text TEXT NOT NULL,
					normalized_text TEXT,
					risk_tags TEXT NOT NULL DEFAULT '[]',
					confidence REAL,
					created_by TEXT,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_usage_requirements_tx_source ON usage_requirements(transaction_id, source)`,

				`CREATE TABLE IF NOT EXISTS rule_catalog (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					regime TEXT NOT NULL,
					list_name TEXT,
					item_no TEXT NOT NULL,
					title TEXT,
					requirement_text TEXT NOT NULL,
					usage_criteria_text TEXT,
					tech_criteria_text TEXT,
					notes TEXT,
					version TEXT NOT NULL DEFAULT '',
					effective_date DATETIME,
					active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(regime, item_no, version)
				)`,
				`CREATE INDEX idx_rule_catalog_regime_itemno ON rule_catalog(regime, item_no)`,

				`CREATE TABLE IF NOT EXISTS runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id INTEGER NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
					stage TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'running',
					model_name TEXT,
					stage_version TEXT,
					params TEXT NOT NULL DEFAULT '{}',
					started_at DATETIME NOT NULL,
					finished_at DATETIME,
					error TEXT
				)`,
				`CREATE INDEX idx_runs_tx_stage ON runs(transaction_id, stage)`,

				`CREATE TABLE IF NOT EXISTS match_results (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
					usage_requirement_id INTEGER NOT NULL,
					rule_id INTEGER NOT NULL REFERENCES rule_catalog(id) ON DELETE CASCADE,
					score REAL NOT NULL,
					match_source TEXT NOT NULL,
					decision TEXT NOT NULL,
					evidence TEXT,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_match_results_run ON match_results(run_id)`,
				`CREATE INDEX idx_match_results_run_rule ON match_results(run_id, rule_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Prior-art corpus and retrieval results",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS documents (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					publication_number TEXT UNIQUE NOT NULL,
					title TEXT,
					assignee TEXT,
					usage_text TEXT,
					ipc_codes TEXT,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS retrieval_results (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
					usage_requirement_id INTEGER NOT NULL,
					document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
					score REAL NOT NULL,
					provenance TEXT NOT NULL,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_retrieval_results_run ON retrieval_results(run_id)`,
				`CREATE INDEX idx_retrieval_results_run_usage ON retrieval_results(run_id, usage_requirement_id)`,

				`CREATE TABLE IF NOT EXISTS document_vectors (
					document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
					model_tag TEXT NOT NULL,
					vector BLOB NOT NULL,
					PRIMARY KEY (document_id, model_tag)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Screening request ledger",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS screening_requests (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					request_id TEXT UNIQUE NOT NULL,
					subject_id INTEGER NOT NULL,
					callback_url TEXT NOT NULL,
					payload_in TEXT NOT NULL,
					transaction_id INTEGER REFERENCES transactions(id),
					status TEXT NOT NULL DEFAULT 'queued',
					reason TEXT,
					payload_out TEXT,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_screening_requests_subject ON screening_requests(subject_id)`,
				`CREATE INDEX idx_screening_requests_status ON screening_requests(status)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
