package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/orin-labs/uciagent/internal/domain"
	"github.com/orin-labs/uciagent/internal/uci"
)

// PipelineScriptRepository defines the script persistence the pipeline needs
// beyond what the generator already does.
type PipelineScriptRepository interface {
	GetByID(ctx context.Context, id string) (*domain.GeneratedScript, error)
	UpdateValidation(ctx context.Context, id string, status domain.ValidationStatus, reason string) error
	GetExecutionResult(ctx context.Context, scriptID string) (*domain.ExecutionResult, error)
}

// Pipeline is the request boundary: one entry point that turns a query into
// a validated script, and one that runs a confirmed script.
type Pipeline struct {
	retriever *Retriever
	generator *ScriptGenerator
	validator *ScriptValidator
	executor  *ScriptExecutor
	scripts   PipelineScriptRepository
	ingest    *IngestService
	topK      int
}

// NewPipeline creates a new Pipeline instance
func NewPipeline(
	retriever *Retriever,
	generator *ScriptGenerator,
	validator *ScriptValidator,
	executor *ScriptExecutor,
	scripts PipelineScriptRepository,
	ingest *IngestService,
	topK int,
) *Pipeline {
	if topK <= 0 {
		topK = DefaultRetrievalLimit
	}
	return &Pipeline{
		retriever: retriever,
		generator: generator,
		validator: validator,
		executor:  executor,
		scripts:   scripts,
		ingest:    ingest,
		topK:      topK,
	}
}

// SubmitQuery retrieves context for the query, generates a script, and runs
// an initial validation pass with no confirmation flags. The returned script
// carries its verdict: approved scripts are ready for ConfirmAndRun, and
// rejected ones explain why, including rejections that a confirmation flag
// would lift.
//
// Unparsable LLM output is not an error at this boundary; the script comes
// back rejected with the parse failure as its reason.
func (p *Pipeline) SubmitQuery(ctx context.Context, routerAddress, queryText string) (*domain.GeneratedScript, error) {
	if routerAddress == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "router address cannot be empty")
	}

	retrieved, err := p.retriever.Retrieve(ctx, queryText, p.topK)
	if err != nil {
		return nil, err
	}

	script, err := p.generator.Generate(ctx, routerAddress, queryText, retrieved)
	if err != nil {
		var derr *domain.DomainError
		if script != nil && errors.As(err, &derr) && derr.Code == domain.ErrCodeUnparsableOutput {
			return script, nil
		}
		return nil, err
	}

	verdict := p.validator.Validate(script, ConfirmFlags{})
	if verdict.Approved {
		script.ValidationStatus = domain.ValidationApproved
		script.RejectionReason = ""
	} else {
		script.ValidationStatus = domain.ValidationRejected
		script.RejectionReason = verdict.Reason
	}
	if err := p.scripts.UpdateValidation(ctx, script.ID, script.ValidationStatus, script.RejectionReason); err != nil {
		return nil, fmt.Errorf("failed to persist validation verdict: %w", err)
	}
	return script, nil
}

// ConfirmAndRun re-validates the script with the caller's confirmation flags
// and executes it on approval. After a successful run the mutated packages
// are re-synced into the index and the solved query is recorded as knowledge.
func (p *Pipeline) ConfirmAndRun(ctx context.Context, scriptID string, flags ConfirmFlags) (*domain.ExecutionResult, error) {
	script, err := p.scripts.GetByID(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if script.ExecutionStatus != domain.ExecutionNotRun {
		return nil, domain.ErrScriptAlreadyRun
	}
	if len(script.Commands) == 0 {
		// Scripts rejected at parse time have no command sequence and can
		// never be confirmed into execution.
		return nil, domain.ErrScriptNotApproved
	}

	verdict := p.validator.Validate(script, flags)
	if !verdict.Approved {
		if err := p.scripts.UpdateValidation(ctx, script.ID, domain.ValidationRejected, verdict.Reason); err != nil {
			return nil, fmt.Errorf("failed to persist validation verdict: %w", err)
		}
		return nil, domain.NewValidationRejected(verdict.Reason)
	}
	if err := p.scripts.UpdateValidation(ctx, script.ID, domain.ValidationApproved, ""); err != nil {
		return nil, fmt.Errorf("failed to persist validation verdict: %w", err)
	}
	script.ValidationStatus = domain.ValidationApproved
	script.RejectionReason = ""

	result, err := p.executor.Execute(ctx, script)
	if err != nil {
		return nil, err
	}

	if result.Status == domain.ExecutionOK {
		commands, parseErr := uci.ParseScript(script.Commands)
		if parseErr == nil {
			if syncErr := p.ingest.SyncPackages(ctx, script.RouterAddress, uci.Packages(commands)); syncErr != nil {
				log.Printf("post-execution sync for script %s failed: %v", script.ID, syncErr)
			}
		}
		p.ingest.AccumulateKnowledge(ctx, script)
	}
	return result, nil
}

// GetScript returns a script with its execution record, when one exists.
func (p *Pipeline) GetScript(ctx context.Context, scriptID string) (*domain.GeneratedScript, *domain.ExecutionResult, error) {
	script, err := p.scripts.GetByID(ctx, scriptID)
	if err != nil {
		return nil, nil, err
	}
	if script.ExecutionStatus == domain.ExecutionNotRun || script.ExecutionStatus == domain.ExecutionRunning {
		return script, nil, nil
	}
	result, err := p.scripts.GetExecutionResult(ctx, scriptID)
	if err != nil {
		return nil, nil, err
	}
	return script, result, nil
}
