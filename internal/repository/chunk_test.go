//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orin-labs/uciagent/internal/domain"
	"github.com/orin-labs/uciagent/internal/testutil"
	"github.com/orin-labs/uciagent/internal/uci"
)

func newTestPool(ctx context.Context, t *testing.T) (*pgxpool.Pool, func()) {
	pc := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	return pool, func() {
		pool.Close()
		pc.Terminate(ctx)
	}
}

func testChunk(sourceFile, sectionPath, rawText string) *domain.ConfigChunk {
	return &domain.ConfigChunk{
		ChunkID:     uci.ChunkID(sourceFile, sectionPath),
		SourceFile:  sourceFile,
		SectionType: domain.KnownSectionType("wireless"),
		SectionPath: sectionPath,
		RawText:     rawText,
	}
}

func TestChunkRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := newTestPool(ctx, t)
	defer cleanup()

	repo := NewChunkRepository(pool)

	c := testChunk("wireless", "wireless.wifi-iface.guest", "config wifi-iface 'guest'\n\toption ssid 'Guest Net'")
	changed, err := repo.Upsert(ctx, c)
	require.NoError(t, err)
	assert.True(t, changed)

	retrieved, err := repo.GetByID(ctx, c.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, c.SourceFile, retrieved.SourceFile)
	assert.Equal(t, c.SectionPath, retrieved.SectionPath)
	assert.Equal(t, c.RawText, retrieved.RawText)
}

func TestChunkRepository_Upsert_UnchangedTextIsNoop(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := newTestPool(ctx, t)
	defer cleanup()

	repo := NewChunkRepository(pool)

	c := testChunk("wireless", "wireless.wifi-iface.guest", "config wifi-iface 'guest'")
	changed, err := repo.Upsert(ctx, c)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.Upsert(ctx, c)
	require.NoError(t, err)
	assert.False(t, changed, "re-ingesting identical text should not report a change")

	c.RawText = "config wifi-iface 'guest'\n\toption disabled '1'"
	changed, err = repo.Upsert(ctx, c)
	require.NoError(t, err)
	assert.True(t, changed, "changed text should refresh the row")

	retrieved, err := repo.GetByID(ctx, c.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, c.RawText, retrieved.RawText)
}

func TestChunkRepository_GetByID_NotFound(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := newTestPool(ctx, t)
	defer cleanup()

	repo := NewChunkRepository(pool)

	_, err := repo.GetByID(ctx, "does-not-exist")
	assert.ErrorIs(t, err, domain.ErrChunkNotFound)
}

func TestChunkRepository_GetByIDs_PreservesRequestOrder(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := newTestPool(ctx, t)
	defer cleanup()

	repo := NewChunkRepository(pool)

	a := testChunk("network", "network.interface.lan", "config interface 'lan'")
	b := testChunk("network", "network.interface.wan", "config interface 'wan'")
	for _, c := range []*domain.ConfigChunk{a, b} {
		_, err := repo.Upsert(ctx, c)
		require.NoError(t, err)
	}

	chunks, err := repo.GetByIDs(ctx, []string{b.ChunkID, "missing", a.ChunkID})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, b.ChunkID, chunks[0].ChunkID)
	assert.Equal(t, a.ChunkID, chunks[1].ChunkID)
}

func TestChunkRepository_DeleteBySourceFile(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := newTestPool(ctx, t)
	defer cleanup()

	chunkRepo := NewChunkRepository(pool)
	annRepo := NewAnnotationRepository(pool)

	keep := testChunk("192.168.1.1/network", "network.interface.lan", "config interface 'lan'")
	gone := testChunk("192.168.1.1/wireless", "wireless.wifi-iface.guest", "config wifi-iface 'guest'")
	for _, c := range []*domain.ConfigChunk{keep, gone} {
		_, err := chunkRepo.Upsert(ctx, c)
		require.NoError(t, err)
	}
	_, err := annRepo.Put(ctx, gone.ChunkID, "guest wifi interface", domain.AnnotationByLLM)
	require.NoError(t, err)

	deleted, err := chunkRepo.DeleteBySourceFile(ctx, "192.168.1.1/wireless")
	require.NoError(t, err)
	assert.Equal(t, []string{gone.ChunkID}, deleted)

	_, err = chunkRepo.GetByID(ctx, gone.ChunkID)
	assert.ErrorIs(t, err, domain.ErrChunkNotFound)

	_, err = annRepo.GetLatest(ctx, gone.ChunkID)
	assert.ErrorIs(t, err, domain.ErrAnnotationNotFound, "annotations should cascade with their chunk")

	_, err = chunkRepo.GetByID(ctx, keep.ChunkID)
	assert.NoError(t, err, "chunks from other sources must survive")
}
