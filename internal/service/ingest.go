package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orin-labs/uciagent/internal/domain"
	"github.com/orin-labs/uciagent/internal/router"
	"github.com/orin-labs/uciagent/internal/uci"
)

// IngestChunkRepository defines the chunk access ingestion needs.
type IngestChunkRepository interface {
	Upsert(ctx context.Context, c *domain.ConfigChunk) (bool, error)
	DeleteBySourceFile(ctx context.Context, sourceFile string) ([]string, error)
	All(ctx context.Context, fn func(*domain.ConfigChunk) error) error
}

// IngestEmbeddingRepository defines the vector writes ingestion needs.
type IngestEmbeddingRepository interface {
	EnsureIndexVersion(ctx context.Context, indexVersion string, dimensions int) error
	Add(ctx context.Context, chunkID, indexVersion string, vector []float32) error
}

// IngestAnnotationRepository stores knowledge annotations and reads them back
// during reindexing.
type IngestAnnotationRepository interface {
	Put(ctx context.Context, chunkID, description string, generatedBy domain.AnnotationSource) (*domain.Annotation, error)
	GetLatest(ctx context.Context, chunkID string) (*domain.Annotation, error)
}

// IngestJobRepository enqueues background annotation work.
type IngestJobRepository interface {
	Enqueue(ctx context.Context, job *domain.AnnotationJob) error
}

// IngestService chunks configuration text, embeds it, and keeps the index in
// sync with routers. It also records solved queries back into the index so
// later retrievals benefit from past work.
type IngestService struct {
	chunks      IngestChunkRepository
	annotations IngestAnnotationRepository
	embeddings  IngestEmbeddingRepository
	jobs        IngestJobRepository
	embedder    QueryEmbedder
	dialer      router.Dialer
	cmdTimeout  time.Duration
}

// NewIngestService creates a new IngestService instance
func NewIngestService(
	chunks IngestChunkRepository,
	annotations IngestAnnotationRepository,
	embeddings IngestEmbeddingRepository,
	jobs IngestJobRepository,
	embedder QueryEmbedder,
	dialer router.Dialer,
	cmdTimeout time.Duration,
) *IngestService {
	if cmdTimeout <= 0 {
		cmdTimeout = 10 * time.Second
	}
	return &IngestService{
		chunks:      chunks,
		annotations: annotations,
		embeddings:  embeddings,
		jobs:        jobs,
		embedder:    embedder,
		dialer:      dialer,
		cmdTimeout:  cmdTimeout,
	}
}

// IngestFile chunks one UCI file, then embeds and enqueues annotation jobs
// for chunks whose text changed. Re-ingesting unchanged content is a no-op:
// no duplicate records, and the existing (possibly annotation-enriched)
// embeddings stay untouched. Returns the number of chunks processed.
func (s *IngestService) IngestFile(ctx context.Context, sourceFile, text string) (int, error) {
	chunks, err := uci.SplitConfig(sourceFile, text)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	version := s.embedder.IndexVersion()
	if err := s.embeddings.EnsureIndexVersion(ctx, version, s.embedder.Dimensions()); err != nil {
		return 0, err
	}

	for i := range chunks {
		chunk := &chunks[i]
		changed, err := s.chunks.Upsert(ctx, chunk)
		if err != nil {
			return 0, fmt.Errorf("failed to store chunk %s: %w", chunk.ChunkID, err)
		}
		if !changed {
			// The stored vector may already carry this chunk's annotation
			// text; re-embedding raw text here would discard it with no
			// pending job to write it back.
			continue
		}

		vector, err := s.embedder.GenerateEmbedding(ctx, chunk.RawText)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunk %s: %w", chunk.ChunkID, err)
		}
		if err := s.embeddings.Add(ctx, chunk.ChunkID, version, vector); err != nil {
			return 0, fmt.Errorf("failed to index chunk %s: %w", chunk.ChunkID, err)
		}

		job := &domain.AnnotationJob{
			ID:      uuid.New().String(),
			ChunkID: chunk.ChunkID,
			Status:  domain.AnnotationJobPending,
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			return 0, fmt.Errorf("failed to enqueue annotation job for %s: %w", chunk.ChunkID, err)
		}
	}
	return len(chunks), nil
}

// SyncRouter pulls the full uci export from a router and ingests every
// package, keyed as "<router>/<package>" so later per-package re-syncs can
// replace just the sections that changed.
func (s *IngestService) SyncRouter(ctx context.Context, routerAddress string) (int, error) {
	ch, err := s.dialer.Dial(ctx, routerAddress)
	if err != nil {
		return 0, fmt.Errorf("failed to reach router %s: %w", routerAddress, err)
	}
	defer ch.Close()

	text, err := s.exportConfig(ctx, ch, "")
	if err != nil {
		return 0, err
	}

	total := 0
	for pkg, pkgText := range splitByPackage(text) {
		n, err := s.ingestPackage(ctx, routerAddress, pkg, pkgText)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// SyncPackages re-syncs just the named packages from the router, replacing
// their chunk sets. Called after a successful execution so the index reflects
// the configuration the script changed.
func (s *IngestService) SyncPackages(ctx context.Context, routerAddress string, packages []string) error {
	if len(packages) == 0 {
		return nil
	}

	ch, err := s.dialer.Dial(ctx, routerAddress)
	if err != nil {
		return fmt.Errorf("failed to reach router %s: %w", routerAddress, err)
	}
	defer ch.Close()

	for _, pkg := range packages {
		text, err := s.exportConfig(ctx, ch, pkg)
		if err != nil {
			return err
		}
		if _, err := s.ingestPackage(ctx, routerAddress, pkg, text); err != nil {
			return err
		}
	}
	return nil
}

func (s *IngestService) ingestPackage(ctx context.Context, routerAddress, pkg, text string) (int, error) {
	sourceFile := routerAddress + "/" + pkg

	// Drop the old chunk set first so sections removed on the router do not
	// linger in the index. Embeddings cascade with their chunks.
	if _, err := s.chunks.DeleteBySourceFile(ctx, sourceFile); err != nil {
		return 0, fmt.Errorf("failed to clear old chunks for %s: %w", sourceFile, err)
	}
	return s.IngestFile(ctx, sourceFile, text)
}

func (s *IngestService) exportConfig(ctx context.Context, ch router.Channel, pkg string) (string, error) {
	command := "uci export"
	if pkg != "" {
		command += " " + pkg
	}

	cmdCtx, cancel := context.WithTimeout(ctx, s.cmdTimeout)
	defer cancel()
	res, err := ch.Run(cmdCtx, command)
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", command, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%s exited %d: %s", command, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// AccumulateKnowledge stores a solved query and its script as a synthetic
// chunk so similar future queries retrieve it as context. Failures here are
// logged, not returned; knowledge accumulation must never fail the request
// that produced the script.
func (s *IngestService) AccumulateKnowledge(ctx context.Context, script *domain.GeneratedScript) {
	sourceFile := "knowledge/" + script.ID
	sectionPath := "knowledge.solved." + script.ID

	var b strings.Builder
	b.WriteString("# request: ")
	b.WriteString(script.QueryText)
	b.WriteString("\n")
	for _, cmd := range script.Commands {
		b.WriteString(cmd)
		b.WriteString("\n")
	}

	chunk := &domain.ConfigChunk{
		ChunkID:     uci.ChunkID(sourceFile, sectionPath),
		SourceFile:  sourceFile,
		SectionType: domain.SectionOther,
		SectionPath: sectionPath,
		RawText:     b.String(),
	}

	if _, err := s.chunks.Upsert(ctx, chunk); err != nil {
		log.Printf("knowledge accumulation: failed to store chunk for script %s: %v", script.ID, err)
		return
	}
	if _, err := s.annotations.Put(ctx, chunk.ChunkID,
		"Commands that solved the request: "+script.QueryText, domain.AnnotationByLLM); err != nil {
		log.Printf("knowledge accumulation: failed to annotate chunk for script %s: %v", script.ID, err)
		return
	}

	vector, err := s.embedder.GenerateEmbedding(ctx, script.QueryText+"\n"+b.String())
	if err != nil {
		log.Printf("knowledge accumulation: failed to embed chunk for script %s: %v", script.ID, err)
		return
	}
	if err := s.embeddings.Add(ctx, chunk.ChunkID, s.embedder.IndexVersion(), vector); err != nil {
		log.Printf("knowledge accumulation: failed to index chunk for script %s: %v", script.ID, err)
	}
}

// ReindexAll re-embeds every stored chunk under the embedder's current index
// version. Run it after an embedding model change; until it finishes, queries
// embedded with the new model fail the version check instead of searching
// stale vectors. Returns the number of chunks re-embedded.
func (s *IngestService) ReindexAll(ctx context.Context) (int, error) {
	version := s.embedder.IndexVersion()
	if err := s.embeddings.EnsureIndexVersion(ctx, version, s.embedder.Dimensions()); err != nil {
		return 0, err
	}

	count := 0
	err := s.chunks.All(ctx, func(chunk *domain.ConfigChunk) error {
		// Annotated chunks are embedded the same way the annotation worker
		// writes them, description first, so reindexing does not degrade
		// retrieval until the next annotation pass.
		text := chunk.RawText
		if ann, err := s.annotations.GetLatest(ctx, chunk.ChunkID); err == nil {
			text = ann.Description + "\n\n" + chunk.RawText
		} else if !errors.Is(err, domain.ErrAnnotationNotFound) {
			return fmt.Errorf("failed to load annotation for %s: %w", chunk.ChunkID, err)
		}

		vector, err := s.embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			return fmt.Errorf("failed to embed chunk %s: %w", chunk.ChunkID, err)
		}
		if err := s.embeddings.Add(ctx, chunk.ChunkID, version, vector); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", chunk.ChunkID, err)
		}
		count++
		return nil
	})
	return count, err
}

// splitByPackage splits a full `uci export` into per-package texts. Export
// output starts each package with a "package <name>" line.
func splitByPackage(text string) map[string]string {
	result := make(map[string]string)
	var current string
	var b strings.Builder

	flush := func() {
		if current != "" {
			result[current] = b.String()
		}
		b.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			flush()
			current = strings.Trim(strings.TrimSpace(strings.TrimPrefix(trimmed, "package ")), "'\"")
			b.WriteString(line)
			b.WriteString("\n")
			continue
		}
		if current != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	flush()
	return result
}
