package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orin-labs/uciagent/internal/domain"
)

// ScriptRepository persists GeneratedScripts and their execution results.
// Completed scripts are retained indefinitely for audit and future
// fine-tuning; they are never updated after execution finishes.
type ScriptRepository struct {
	db dbtx
}

func NewScriptRepository(pool *pgxpool.Pool) *ScriptRepository {
	return &ScriptRepository{db: pool}
}

func NewScriptRepositoryWithTx(tx pgx.Tx) *ScriptRepository {
	return &ScriptRepository{db: tx}
}

func (r *ScriptRepository) Create(ctx context.Context, s *domain.GeneratedScript) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := r.db.Exec(ctx,
		`INSERT INTO scripts
			(id, router_address, query_text, retrieved_chunk_ids, raw_llm_output, commands,
			 validation_status, rejection_reason, execution_status, rollback_performed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.RouterAddress, s.QueryText, s.RetrievedChunkIDs, s.RawLLMOutput, s.Commands,
		s.ValidationStatus, s.RejectionReason, s.ExecutionStatus, s.RollbackPerformed, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *ScriptRepository) GetByID(ctx context.Context, id string) (*domain.GeneratedScript, error) {
	var s domain.GeneratedScript
	err := r.db.QueryRow(ctx,
		`SELECT id, router_address, query_text, retrieved_chunk_ids, raw_llm_output, commands,
		        validation_status, rejection_reason, execution_status, rollback_performed, created_at, updated_at
		 FROM scripts WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.RouterAddress, &s.QueryText, &s.RetrievedChunkIDs, &s.RawLLMOutput, &s.Commands,
		&s.ValidationStatus, &s.RejectionReason, &s.ExecutionStatus, &s.RollbackPerformed, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScriptNotFound
		}
		return nil, err
	}
	return &s, nil
}

// UpdateValidation records the validator verdict.
func (r *ScriptRepository) UpdateValidation(ctx context.Context, id string, status domain.ValidationStatus, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scripts SET validation_status = $2, rejection_reason = $3, updated_at = $4
		 WHERE id = $1 AND execution_status = 'not_run'`,
		id, status, reason, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScriptAlreadyRun
	}
	return nil
}

// ClaimExecution atomically moves a script from not_run to running. Exactly
// one of any number of concurrent callers wins the claim; the rest get
// ErrScriptAlreadyRun. A claim ends with FinishExecution, or with
// ReleaseExecution when execution never started.
func (r *ScriptRepository) ClaimExecution(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scripts SET execution_status = 'running', updated_at = $2
		 WHERE id = $1 AND execution_status = 'not_run'`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScriptAlreadyRun
	}
	return nil
}

// ReleaseExecution returns a claimed script to not_run so it can be confirmed
// again after a pre-dispatch failure (busy or unreachable router, snapshot
// error).
func (r *ScriptRepository) ReleaseExecution(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE scripts SET execution_status = 'not_run', updated_at = $2
		 WHERE id = $1 AND execution_status = 'running'`,
		id, time.Now().UTC(),
	)
	return err
}

// FinishExecution records the terminal execution state and the per-command
// outcomes in one transaction-free pass: outcomes first, status last, so a
// crash in between can never show a finished script without its audit trail.
func (r *ScriptRepository) FinishExecution(ctx context.Context, result *domain.ExecutionResult) error {
	for i, outcome := range result.Outcomes {
		_, err := r.db.Exec(ctx,
			`INSERT INTO execution_results (script_id, command_index, command, stdout, stderr, exit_code)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (script_id, command_index) DO NOTHING`,
			result.ScriptID, i, outcome.Command, outcome.Stdout, outcome.Stderr, outcome.ExitCode,
		)
		if err != nil {
			return err
		}
	}

	_, err := r.db.Exec(ctx,
		`UPDATE scripts SET execution_status = $2, rollback_performed = $3, updated_at = $4
		 WHERE id = $1`,
		result.ScriptID, result.Status, result.RollbackPerformed, time.Now().UTC(),
	)
	return err
}

// GetExecutionResult loads the recorded outcomes for a script.
func (r *ScriptRepository) GetExecutionResult(ctx context.Context, scriptID string) (*domain.ExecutionResult, error) {
	script, err := r.GetByID(ctx, scriptID)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT command, stdout, stderr, exit_code
		 FROM execution_results WHERE script_id = $1
		 ORDER BY command_index ASC`,
		scriptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &domain.ExecutionResult{
		ScriptID:          scriptID,
		Status:            script.ExecutionStatus,
		RollbackPerformed: script.RollbackPerformed,
	}
	for rows.Next() {
		var o domain.CommandOutcome
		if err := rows.Scan(&o.Command, &o.Stdout, &o.Stderr, &o.ExitCode); err != nil {
			return nil, err
		}
		result.Outcomes = append(result.Outcomes, o)
	}
	return result, rows.Err()
}
