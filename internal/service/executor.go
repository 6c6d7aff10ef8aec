package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/orin-labs/uciagent/internal/domain"
	"github.com/orin-labs/uciagent/internal/router"
	"github.com/orin-labs/uciagent/internal/uci"
)

// LockRegistry serializes executions per router address.
type LockRegistry interface {
	Acquire(ctx context.Context, address string, timeout time.Duration) (func(), error)
}

// ExecutorScriptRepository claims scripts for execution and persists their
// outcomes.
type ExecutorScriptRepository interface {
	ClaimExecution(ctx context.Context, id string) error
	ReleaseExecution(ctx context.Context, id string) error
	FinishExecution(ctx context.Context, result *domain.ExecutionResult) error
}

// ExecutorConfig bounds the executor's remote operations.
type ExecutorConfig struct {
	// CommandTimeout bounds set/add/delete/show commands.
	CommandTimeout time.Duration
	// CommitTimeout bounds uci commit, which may restart services.
	CommitTimeout time.Duration
	// LockTimeout is how long a request waits for the per-router lock before
	// failing with RouterBusy.
	LockTimeout time.Duration
	// TransportRetries is how many times a transport-level failure is retried
	// per command. Non-zero exit codes are never retried.
	TransportRetries int
	// RetryBackoff is the initial backoff between transport retries; it
	// doubles per attempt.
	RetryBackoff time.Duration
}

// DefaultExecutorConfig returns the executor timeouts used when the
// configuration does not override them.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CommandTimeout:   10 * time.Second,
		CommitTimeout:    60 * time.Second,
		LockTimeout:      30 * time.Second,
		TransportRetries: 2,
		RetryBackoff:     200 * time.Millisecond,
	}
}

// ScriptExecutor applies approved scripts to routers with snapshot-based
// rollback on failure.
type ScriptExecutor struct {
	dialer  router.Dialer
	locks   LockRegistry
	scripts ExecutorScriptRepository
	cfg     ExecutorConfig
}

// NewScriptExecutor creates a new ScriptExecutor instance
func NewScriptExecutor(dialer router.Dialer, locks LockRegistry, scripts ExecutorScriptRepository, cfg ExecutorConfig) *ScriptExecutor {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultExecutorConfig().CommandTimeout
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultExecutorConfig().CommitTimeout
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultExecutorConfig().LockTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultExecutorConfig().RetryBackoff
	}
	return &ScriptExecutor{dialer: dialer, locks: locks, scripts: scripts, cfg: cfg}
}

// Execute runs an approved script on its router. Commands run sequentially in
// script order; the first non-zero exit halts the remainder and triggers a
// rollback to the pre-execution snapshot of every package the script mutates.
// A failed rollback yields status partial, which is terminal and requires
// manual recovery.
//
// The returned ExecutionResult carries the per-command record for every
// status; a non-nil error means execution never started (busy router,
// unreachable router, snapshot failure) and the script remains runnable.
//
// The script is claimed in the database before anything touches the router,
// so two concurrent confirmations of the same script cannot both dispatch it;
// the loser gets ErrScriptAlreadyRun. Pre-dispatch failures release the claim.
func (e *ScriptExecutor) Execute(ctx context.Context, script *domain.GeneratedScript) (*domain.ExecutionResult, error) {
	if script.ValidationStatus != domain.ValidationApproved {
		return nil, domain.ErrScriptNotApproved
	}
	if script.ExecutionStatus != domain.ExecutionNotRun {
		return nil, domain.ErrScriptAlreadyRun
	}

	commands, err := uci.ParseScript(script.Commands)
	if err != nil {
		return nil, fmt.Errorf("stored script no longer parses: %w", err)
	}

	if err := e.scripts.ClaimExecution(ctx, script.ID); err != nil {
		return nil, err
	}

	release, err := e.locks.Acquire(ctx, script.RouterAddress, e.cfg.LockTimeout)
	if err != nil {
		e.releaseClaim(ctx, script.ID)
		if errors.Is(err, domain.ErrRouterBusy) {
			return nil, domain.ErrRouterBusy
		}
		return nil, err
	}
	defer release()

	channel, err := e.dialer.Dial(ctx, script.RouterAddress)
	if err != nil {
		e.releaseClaim(ctx, script.ID)
		return nil, fmt.Errorf("failed to reach router %s: %w", script.RouterAddress, err)
	}
	defer channel.Close()

	snapshot, err := e.takeSnapshot(ctx, channel, uci.Packages(commands))
	if err != nil {
		e.releaseClaim(ctx, script.ID)
		return nil, fmt.Errorf("failed to snapshot router state: %w", err)
	}

	result := &domain.ExecutionResult{
		ScriptID: script.ID,
		Status:   domain.ExecutionOK,
	}

	var applied []*uci.Command
	var committed []string

	for _, cmd := range commands {
		res, err := e.runCommand(ctx, channel, cmd.Raw, e.timeoutFor(cmd))
		if err != nil {
			// Transport failure with retries exhausted. The command may or
			// may not have landed; roll back what is known to have applied.
			result.Outcomes = append(result.Outcomes, domain.CommandOutcome{
				Command:  cmd.Raw,
				Stderr:   err.Error(),
				ExitCode: -1,
			})
			e.rollback(ctx, channel, result, applied, committed, snapshot)
			break
		}

		result.Outcomes = append(result.Outcomes, domain.CommandOutcome{
			Command:  cmd.Raw,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			ExitCode: res.ExitCode,
		})
		if res.ExitCode != 0 {
			e.rollback(ctx, channel, result, applied, committed, snapshot)
			break
		}

		if cmd.IsMutation() {
			applied = append(applied, cmd)
		}
		if cmd.Kind == uci.CommandCommit {
			committed = append(committed, cmd.Package)
		}
	}

	if err := e.scripts.FinishExecution(ctx, result); err != nil {
		return result, fmt.Errorf("failed to persist execution result: %w", err)
	}
	return result, nil
}

// releaseClaim puts the script back to not_run when execution never started.
func (e *ScriptExecutor) releaseClaim(ctx context.Context, id string) {
	if err := e.scripts.ReleaseExecution(ctx, id); err != nil {
		log.Printf("failed to release execution claim for script %s: %v", id, err)
	}
}

func (e *ScriptExecutor) timeoutFor(cmd *uci.Command) time.Duration {
	if cmd.Kind == uci.CommandCommit {
		return e.cfg.CommitTimeout
	}
	return e.cfg.CommandTimeout
}

// runCommand runs one command with a per-command timeout, retrying transport
// failures with exponential backoff. Exit codes are returned as results, not
// errors, and are never retried.
func (e *ScriptExecutor) runCommand(ctx context.Context, ch router.Channel, command string, timeout time.Duration) (*router.CommandResult, error) {
	var lastErr error
	backoff := e.cfg.RetryBackoff
	for attempt := 0; attempt <= e.cfg.TransportRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		res, err := ch.Run(cmdCtx, command)
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// takeSnapshot records the flattened uci state of each package the script
// mutates, keyed by dotted path.
func (e *ScriptExecutor) takeSnapshot(ctx context.Context, ch router.Channel, packages []string) (map[string]string, error) {
	snapshot := make(map[string]string)
	for _, pkg := range packages {
		res, err := e.runCommand(ctx, ch, "uci show "+pkg, e.cfg.CommandTimeout)
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			// Package absent on the router is fine; the script may be adding it.
			continue
		}
		for _, line := range strings.Split(res.Stdout, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			path, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			snapshot[path] = unquoteShowValue(value)
		}
	}
	return snapshot, nil
}

// rollback restores the pre-execution snapshot by applying the inverse of
// each applied mutation in reverse order, then re-commits any package whose
// commit had already landed. It sets the result status to failed when the
// snapshot is restored and partial when restoration itself fails.
func (e *ScriptExecutor) rollback(
	ctx context.Context,
	ch router.Channel,
	result *domain.ExecutionResult,
	applied []*uci.Command,
	committed []string,
	snapshot map[string]string,
) {
	inverse := inverseCommands(applied, snapshot)
	for _, pkg := range committed {
		inverse = append(inverse, "uci commit "+pkg)
	}

	for _, line := range inverse {
		timeout := e.cfg.CommandTimeout
		if strings.HasPrefix(line, "uci commit") {
			timeout = e.cfg.CommitTimeout
		}
		res, err := e.runCommand(ctx, ch, line, timeout)
		if err != nil || res.ExitCode != 0 {
			log.Printf("rollback command %q failed for script %s: err=%v", line, result.ScriptID, err)
			result.Status = domain.ExecutionPartial
			result.RollbackPerformed = false
			return
		}
	}

	result.Status = domain.ExecutionFailed
	result.RollbackPerformed = true
}

// inverseCommands builds the restore sequence for the applied mutations, in
// reverse application order.
func inverseCommands(applied []*uci.Command, snapshot map[string]string) []string {
	var out []string
	for i := len(applied) - 1; i >= 0; i-- {
		cmd := applied[i]
		switch cmd.Kind {
		case uci.CommandSet:
			target := cmd.Target()
			if old, ok := snapshot[target]; ok {
				out = append(out, "uci set "+target+"="+quoteValue(old))
			} else {
				out = append(out, "uci delete "+target)
			}
		case uci.CommandAdd:
			// The added section is the last of its type.
			out = append(out, fmt.Sprintf("uci delete %s.@%s[-1]", cmd.Package, cmd.Value))
		case uci.CommandDelete:
			out = append(out, restoreDeleted(cmd.Target(), snapshot)...)
		}
	}
	return out
}

// restoreDeleted re-creates a deleted path from the snapshot. Deleting a
// whole section removes all its options, so every snapshot entry under the
// path is restored; the section's own type line sorts first and re-creates
// the section before its options are set.
func restoreDeleted(target string, snapshot map[string]string) []string {
	var paths []string
	for path := range snapshot {
		if path == target || strings.HasPrefix(path, target+".") {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	out := make([]string, 0, len(paths))
	for _, path := range paths {
		out = append(out, "uci set "+path+"="+quoteValue(snapshot[path]))
	}
	return out
}

// unquoteShowValue strips the single quotes `uci show` wraps values in.
func unquoteShowValue(v string) string {
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return v[1 : len(v)-1]
	}
	return v
}

// quoteValue single-quotes a value for the remote shell. Snapshot values can
// contain anything an operator ever stored, shell metacharacters included, so
// quoting is unconditional; an embedded single quote closes the quoting,
// escapes itself, and reopens it.
func quoteValue(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}
