package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store wraps a Pool with the job/batch/commit operations the engine needs.
type Store struct {
	pool *Pool
}

// New wraps an existing pool.
func New(pool *Pool) *Store {
	return &Store{pool: pool}
}

// GetJobConfig reads the singleton job_config row.
func (s *Store) GetJobConfig(ctx context.Context) (*JobConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT source_root, output_root, selected_person_ids, group_mode, group_folder_name, control, updated_at
		FROM job_config WHERE id = 1
	`)

	var cfg JobConfig
	var selected sql.NullString
	var groupFolder sql.NullString
	if err := row.Scan(&cfg.SourceRoot, &cfg.OutputRoot, &selected, &cfg.GroupMode, &groupFolder, &cfg.Control, &cfg.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get job config: %w", err)
	}

	if selected.Valid && selected.String != "" {
		var ids []int64
		if err := json.Unmarshal([]byte(selected.String), &ids); err != nil {
			return nil, fmt.Errorf("decode selected_person_ids: %w", err)
		}
		cfg.SelectedPersonIDs = ids
	}
	cfg.GroupFolderName = groupFolder.String

	return &cfg, nil
}

// SetJobConfig overwrites the singleton job_config row.
func (s *Store) SetJobConfig(ctx context.Context, cfg *JobConfig) error {
	var selected any
	if cfg.SelectedPersonIDs != nil {
		b, err := json.Marshal(cfg.SelectedPersonIDs)
		if err != nil {
			return fmt.Errorf("encode selected_person_ids: %w", err)
		}
		selected = string(b)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_config (id, source_root, output_root, selected_person_ids, group_mode, group_folder_name, control, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			source_root = EXCLUDED.source_root,
			output_root = EXCLUDED.output_root,
			selected_person_ids = EXCLUDED.selected_person_ids,
			group_mode = EXCLUDED.group_mode,
			group_folder_name = EXCLUDED.group_folder_name,
			control = EXCLUDED.control,
			updated_at = NOW()
	`, cfg.SourceRoot, cfg.OutputRoot, selected, cfg.GroupMode, cfg.GroupFolderName, string(cfg.Control))
	if err != nil {
		return fmt.Errorf("set job config: %w", err)
	}
	return nil
}

// SetControl updates only the control signal, the one field the operator
// surface is expected to poke while a job is running.
func (s *Store) SetControl(ctx context.Context, c Control) error {
	_, err := s.pool.Exec(ctx, `UPDATE job_config SET control = $1, updated_at = NOW() WHERE id = 1`, string(c))
	if err != nil {
		return fmt.Errorf("set control: %w", err)
	}
	return nil
}
