package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/orin-labs/uciagent/internal/domain"
	"github.com/orin-labs/uciagent/internal/uci"
)

// CompletionClient defines the interface for chat completions.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GeneratorChunkRepository defines the chunk lookups the generator needs to
// build its prompt context.
type GeneratorChunkRepository interface {
	GetByIDs(ctx context.Context, chunkIDs []string) ([]*domain.ConfigChunk, error)
}

// GeneratorAnnotationRepository resolves the latest annotation per chunk.
type GeneratorAnnotationRepository interface {
	GetLatestForChunks(ctx context.Context, chunkIDs []string) (map[string]*domain.Annotation, error)
}

// GeneratorScriptRepository persists generated scripts.
type GeneratorScriptRepository interface {
	Create(ctx context.Context, s *domain.GeneratedScript) error
}

// ScriptGenerator turns a user query plus retrieved context into a parsed,
// persisted UCI script.
type ScriptGenerator struct {
	llm         CompletionClient
	chunks      GeneratorChunkRepository
	annotations GeneratorAnnotationRepository
	scripts     GeneratorScriptRepository
}

// NewScriptGenerator creates a new ScriptGenerator instance
func NewScriptGenerator(
	llm CompletionClient,
	chunks GeneratorChunkRepository,
	annotations GeneratorAnnotationRepository,
	scripts GeneratorScriptRepository,
) *ScriptGenerator {
	return &ScriptGenerator{
		llm:         llm,
		chunks:      chunks,
		annotations: annotations,
		scripts:     scripts,
	}
}

const promptInstructions = `You are an assistant that configures OpenWRT routers through the uci command line tool.

Reply with a single fenced code block containing only uci commands, one per line.
Allowed verbs: uci set, uci add, uci delete, uci commit, uci show.
Do not use any other shell commands. Finish with uci commit for every package you change.`

// Generate produces a script for the query, grounded on the retrieved chunks.
// Every outcome is persisted: output that fails the strict command grammar is
// stored as a rejected script with its raw LLM text kept for inspection, and
// the returned error wraps ErrUnparsableOutput.
func (g *ScriptGenerator) Generate(ctx context.Context, routerAddress, queryText string, retrieved domain.RetrievalResult) (*domain.GeneratedScript, error) {
	prompt, err := g.buildPrompt(ctx, queryText, retrieved)
	if err != nil {
		return nil, err
	}

	raw, err := g.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}

	script := &domain.GeneratedScript{
		ID:                uuid.New().String(),
		RouterAddress:     routerAddress,
		QueryText:         queryText,
		RetrievedChunkIDs: retrieved.ChunkIDs(),
		RawLLMOutput:      raw,
		ValidationStatus:  domain.ValidationPending,
		ExecutionStatus:   domain.ExecutionNotRun,
	}

	commands, parseErr := uci.ParseScript(extractCodeBlock(raw))
	if parseErr != nil {
		script.ValidationStatus = domain.ValidationRejected
		script.RejectionReason = parseErr.Error()
		if err := g.scripts.Create(ctx, script); err != nil {
			return nil, fmt.Errorf("failed to persist rejected script: %w", err)
		}
		return script, parseErr
	}

	script.Commands = make([]string, 0, len(commands))
	for _, cmd := range commands {
		script.Commands = append(script.Commands, cmd.Raw)
	}

	if err := g.scripts.Create(ctx, script); err != nil {
		return nil, fmt.Errorf("failed to persist script: %w", err)
	}
	return script, nil
}

func (g *ScriptGenerator) buildPrompt(ctx context.Context, queryText string, retrieved domain.RetrievalResult) (string, error) {
	var b strings.Builder
	b.WriteString(promptInstructions)
	b.WriteString("\n\n")

	ids := retrieved.ChunkIDs()
	if len(ids) > 0 {
		chunks, err := g.chunks.GetByIDs(ctx, ids)
		if err != nil {
			return "", fmt.Errorf("failed to load retrieved chunks: %w", err)
		}
		annotations, err := g.annotations.GetLatestForChunks(ctx, ids)
		if err != nil {
			return "", fmt.Errorf("failed to load annotations: %w", err)
		}

		b.WriteString("Relevant configuration on the router:\n\n")
		for _, chunk := range chunks {
			b.WriteString("# ")
			b.WriteString(chunk.SectionPath)
			if ann, ok := annotations[chunk.ChunkID]; ok {
				b.WriteString(": ")
				b.WriteString(ann.Description)
			}
			b.WriteString("\n")
			b.WriteString(chunk.RawText)
			if !strings.HasSuffix(chunk.RawText, "\n") {
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("User request: ")
	b.WriteString(queryText)
	b.WriteString("\n")
	return b.String(), nil
}

// extractCodeBlock returns the lines inside the first fenced code block, or
// all lines when the output has no fences. Language tags on the opening
// fence are ignored.
func extractCodeBlock(output string) []string {
	lines := strings.Split(output, "\n")

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			start = i
			break
		}
	}
	if start == -1 {
		return lines
	}
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "```" {
			return lines[start+1 : i]
		}
	}
	// Unterminated fence, take everything after the opening line.
	return lines[start+1:]
}
