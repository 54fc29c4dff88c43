package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/grundgraph/ai/mock"
	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/docbook"
	"github.com/poiesic/grundgraph/storage"
	"github.com/poiesic/grundgraph/storage/badger"
	"github.com/poiesic/grundgraph/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

type testEnv struct {
	jobs     *badger.JobRepository
	vectors  *badger.VectorStore
	graph    *sqlite.GraphStore
	embedder *mock.MockEmbedder
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	jobs, vectors, backend, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	graph, err := sqlite.Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { graph.Close() })

	return &testEnv{
		jobs:     jobs,
		vectors:  vectors,
		graph:    graph,
		embedder: mock.NewMockEmbedderWithDimension(testDim),
	}
}

func (env *testEnv) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	return env.pipelineWith(t, env.vectors, opts...)
}

func (env *testEnv) pipelineWith(t *testing.T, vectors storage.VectorStore, opts ...Option) *Pipeline {
	t.Helper()
	p, err := NewPipeline(env.jobs, env.embedder, vectors, env.graph, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

// syntheticResult builds a result with n single-chunk requirements under one block.
func syntheticResult(n int) *core.ExtractionResult {
	result := &core.ExtractionResult{
		DocumentID: "doc-synthetic",
		Filename:   "synthetic.xml",
		Entities: []core.Entity{
			{ID: "building_block:ORP.1", Type: core.EntityTypeBuildingBlock, Title: "ORP.1 Organisation"},
		},
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("requirement:ORP.1.A%d", i+1)
		result.Entities = append(result.Entities, core.Entity{
			ID: id, Type: core.EntityTypeRequirement, Title: id, ParentID: "building_block:ORP.1",
		})
		result.Relationships = append(result.Relationships, core.Relationship{
			SourceID: id, TargetID: "building_block:ORP.1", Type: core.RelBelongsTo,
		})
		result.Chunks = append(result.Chunks, core.Chunk{
			ID:         core.ChunkID(id, 0),
			EntityID:   id,
			EntityType: core.EntityTypeRequirement,
			Content:    fmt.Sprintf("Anforderung %d", i+1),
			Total:      1,
		})
	}
	result.Stats.TotalEntities = len(result.Entities)
	result.Stats.TotalRelationships = len(result.Relationships)
	result.Stats.TotalChunks = n
	return result
}

func staticExtractor(result *core.ExtractionResult) ExtractFunc {
	return func(context.Context, string, core.ProcessingOptions) (*core.ExtractionResult, error) {
		return result, nil
	}
}

// gatedExtractor returns result once gate is closed.
func gatedExtractor(result *core.ExtractionResult, gate <-chan struct{}) ExtractFunc {
	return func(ctx context.Context, _ string, _ core.ProcessingOptions) (*core.ExtractionResult, error) {
		select {
		case <-gate:
			return result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func deterministicVectors(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = mock.GenerateDeterministicVector(text, testDim)
	}
	return out
}

func waitJob(t *testing.T, p *Pipeline, id string) *core.JobRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := p.Wait(ctx, id)
	require.NoError(t, err)
	return job
}

func collect(t *testing.T, updates <-chan core.ProgressUpdate) []core.ProgressUpdate {
	t.Helper()
	var seen []core.ProgressUpdate
	timeout := time.After(10 * time.Second)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return seen
			}
			seen = append(seen, u)
		case <-timeout:
			t.Fatal("progress stream did not end")
			return seen
		}
	}
}

func TestNewPipeline(t *testing.T) {
	env := setupEnv(t)

	t.Run("missing collaborators", func(t *testing.T) {
		_, err := NewPipeline(nil, env.embedder, env.vectors, env.graph)
		assert.ErrorIs(t, err, ErrJobRepositoryRequired)
		_, err = NewPipeline(env.jobs, nil, env.vectors, env.graph)
		assert.ErrorIs(t, err, ErrEmbedderRequired)
		_, err = NewPipeline(env.jobs, env.embedder, nil, env.graph)
		assert.ErrorIs(t, err, ErrVectorStoreRequired)
		_, err = NewPipeline(env.jobs, env.embedder, env.vectors, nil)
		assert.ErrorIs(t, err, ErrGraphStoreRequired)
	})

	t.Run("defaults", func(t *testing.T) {
		p := env.pipeline(t)
		assert.Equal(t, 10, p.poolSize)
		assert.Equal(t, 10, p.pool.Cap())
		assert.Equal(t, 32, p.batchSize)
		assert.Equal(t, 30*time.Second, p.callTimeout)
		assert.Equal(t, 30*time.Second, p.keepalive)
		assert.NotNil(t, p.extract)
	})

	t.Run("options", func(t *testing.T) {
		p := env.pipeline(t, WithPoolSize(0), WithBatchSize(4), WithCallTimeout(time.Second), WithKeepalive(time.Minute))
		assert.Equal(t, 1, p.poolSize)
		assert.Equal(t, 4, p.batchSize)
		assert.Equal(t, time.Second, p.callTimeout)
		assert.Equal(t, time.Minute, p.keepalive)
	})

	t.Run("invalid options", func(t *testing.T) {
		_, err := NewPipeline(env.jobs, env.embedder, env.vectors, env.graph, WithBatchSize(0))
		assert.Error(t, err)
		_, err = NewPipeline(env.jobs, env.embedder, env.vectors, env.graph, WithCallTimeout(0))
		assert.Error(t, err)
		_, err = NewPipeline(env.jobs, env.embedder, env.vectors, env.graph, WithExtractor(nil))
		assert.Error(t, err)
	})
}

func TestPipeline_ProcessesDocBookFile(t *testing.T) {
	env := setupEnv(t)
	p := env.pipeline(t, WithBatchSize(4))
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "kompendium.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<book xmlns="http://docbook.org/ns/docbook">
  <chapter><title>Glossar</title>
    <para><emphasis role="strong">Schutzbedarf</emphasis>: Bedarf an Schutz.</para>
  </chapter>
  <chapter><title>Organisation</title>
    <section><title>ORP.1 Organisation</title>
      <section><title>Beschreibung</title><para>Der Schutzbedarf wird festgestellt.</para></section>
      <section><title>ORP.1.A1 Festlegung von Verantwortlichkeiten (B) [ISB]</title>
        <para>Regelungen sind festzulegen, siehe ORP.2. Grundlage ist ISO 27001.</para></section>
      <section><title>ORP.1.A2 Zuweisung (S)</title><para>Zuweisungen sind zu dokumentieren.</para></section>
    </section>
  </chapter>
</book>`), 0o644))

	expected, err := docbook.Extract(path, core.DefaultProcessingOptions())
	require.NoError(t, err)

	opts := core.DefaultProcessingOptions()
	opts.CollectionName = ""
	job, err := p.StartProcessing(ctx, path, opts)
	require.NoError(t, err)
	assert.Equal(t, "kompendium.xml", job.Filename)
	assert.Equal(t, core.DefaultCollection, job.Options.CollectionName)

	done := waitJob(t, p, job.ID)
	assert.Equal(t, core.JobCompleted, done.Status, done.ErrorMessage)
	assert.Equal(t, 1.0, done.Progress)
	assert.Equal(t, expected.DocumentID, done.DocumentID)
	assert.Equal(t, len(expected.Chunks), done.TotalChunks)
	assert.Equal(t, done.TotalChunks, done.CompletedChunks)
	assert.False(t, done.StartedAt.IsZero())
	assert.False(t, done.CompletedAt.IsZero())

	count, err := env.vectors.Count(ctx, core.DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, len(expected.Chunks), count)

	stats, err := env.graph.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(expected.Entities), stats.TotalNodes)

	node, err := env.graph.GetNode(ctx, "requirement:ORP.1.A1")
	require.NoError(t, err)
	assert.Equal(t, expected.DocumentID, node.DocumentID)

	hits, err := env.vectors.ChunksForEntities(ctx, core.DefaultCollection, []string{"requirement:ORP.1.A1"}, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, expected.DocumentID, hits[0].Payload.DocumentID)
	assert.Equal(t, "B", hits[0].Payload.Metadata.String(core.MetaTier))
}

func TestPipeline_ProgressIsMonotonic(t *testing.T) {
	env := setupEnv(t)
	gate := make(chan struct{})
	result := syntheticResult(75)
	for i := 0; i < 130; i++ {
		result.Relationships = append(result.Relationships, core.Relationship{
			SourceID: "building_block:ORP.1", TargetID: fmt.Sprintf("standard:S%d", i), Type: core.RelGroundedIn,
		})
	}
	p := env.pipeline(t, WithBatchSize(10), WithExtractor(gatedExtractor(result, gate)))
	ctx := context.Background()

	job, err := p.StartProcessing(ctx, "/virtual/doc.xml", core.DefaultProcessingOptions())
	require.NoError(t, err)
	updates, err := p.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	close(gate)

	seen := collect(t, updates)
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Progress, seen[i-1].Progress, "update %d (%s) went backwards", i, seen[i].Stage)
	}
	last := seen[len(seen)-1]
	assert.Equal(t, core.StageCompleted, last.Stage)
	assert.Equal(t, 1.0, last.Progress)
	assert.Equal(t, 75, last.ItemsTotal)

	stages := make(map[core.Stage]bool)
	for _, u := range seen {
		assert.Equal(t, job.ID, u.JobID)
		stages[u.Stage] = true
	}
	assert.True(t, stages[core.StageStoringVectors])
	assert.True(t, stages[core.StageCreatingGraph])
}

func TestPipeline_ResumeProcessesOnlyRemainder(t *testing.T) {
	env := setupEnv(t)
	var calls atomic.Int32
	env.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) == 3 {
			return nil, errors.New("embedding service unavailable")
		}
		return deterministicVectors(texts), nil
	}
	p := env.pipeline(t, WithBatchSize(10), WithExtractor(staticExtractor(syntheticResult(50))))
	ctx := context.Background()

	job, err := p.StartProcessing(ctx, "/virtual/doc.xml", core.DefaultProcessingOptions())
	require.NoError(t, err)

	failed := waitJob(t, p, job.ID)
	assert.Equal(t, core.JobFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "embedding service unavailable")
	assert.Equal(t, 20, failed.CompletedChunks)
	assert.Equal(t, 50, failed.TotalChunks)

	env.embedder.Reset()
	resumed, err := p.Resume(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, resumed.ID)

	done := waitJob(t, p, job.ID)
	assert.Equal(t, core.JobCompleted, done.Status)
	assert.Empty(t, done.ErrorMessage)
	assert.Equal(t, 50, done.CompletedChunks)
	assert.Equal(t, 30, env.embedder.TextCount(), "only the 30 unfinished chunks are embedded again")

	count, err := env.vectors.Count(ctx, core.DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, 50, count)
}

func TestPipeline_Cancellation(t *testing.T) {
	env := setupEnv(t)
	reached := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	env.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) == 5 {
			close(reached)
			<-release
		}
		return deterministicVectors(texts), nil
	}
	const batch = 10
	p := env.pipeline(t, WithBatchSize(batch), WithExtractor(staticExtractor(syntheticResult(100))))
	ctx := context.Background()

	job, err := p.StartProcessing(ctx, "/virtual/doc.xml", core.DefaultProcessingOptions())
	require.NoError(t, err)

	select {
	case <-reached:
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline never reached the fifth batch")
	}
	current, err := p.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, current.CompletedChunks)

	cancelled, err := p.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCancelled, cancelled.Status)
	close(release)

	final := waitJob(t, p, job.ID)
	assert.Equal(t, core.JobCancelled, final.Status)
	assert.GreaterOrEqual(t, final.CompletedChunks, 40)
	assert.LessOrEqual(t, final.CompletedChunks, 40+batch)
	assert.False(t, final.CompletedAt.IsZero())

	_, err = p.Resume(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotResumable)
	_, err = p.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobTerminal)

	stats, err := env.graph.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalNodes, "graph stage never starts after cancellation")
}

func TestPipeline_ExtractionFailure(t *testing.T) {
	env := setupEnv(t)
	p := env.pipeline(t)
	ctx := context.Background()

	job, err := p.StartProcessing(ctx, filepath.Join(t.TempDir(), "missing.xml"), core.DefaultProcessingOptions())
	require.NoError(t, err, "failures surface on the job, not the call")

	failed := waitJob(t, p, job.ID)
	assert.Equal(t, core.JobFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, docbook.ErrParse.Error())

	updates, err := p.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	seen := collect(t, updates)
	require.Len(t, seen, 1)
	assert.Equal(t, core.StageFailed, seen[0].Stage)
	assert.Equal(t, failed.ErrorMessage, seen[0].Error)

	_, err = p.Resume(ctx, job.ID)
	require.NoError(t, err, "failed jobs can be resumed")
	assert.Equal(t, core.JobFailed, waitJob(t, p, job.ID).Status)
}

func TestPipeline_InvalidOptions(t *testing.T) {
	env := setupEnv(t)
	p := env.pipeline(t)

	opts := core.DefaultProcessingOptions()
	opts.ChunkOverlap = opts.ChunkSize
	_, err := p.StartProcessing(context.Background(), "/doc.xml", opts)
	assert.ErrorIs(t, err, core.ErrInvalidOptions)

	jobs, err := p.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

// blockingVectors stalls every upsert until its context ends.
type blockingVectors struct {
	storage.VectorStore
}

func (b blockingVectors) Upsert(ctx context.Context, collection string, points []storage.Point) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPipeline_CallTimeoutFailsJob(t *testing.T) {
	env := setupEnv(t)
	p := env.pipelineWith(t, blockingVectors{env.vectors},
		WithCallTimeout(20*time.Millisecond), WithExtractor(staticExtractor(syntheticResult(5))))
	ctx := context.Background()

	job, err := p.StartProcessing(ctx, "/virtual/doc.xml", core.DefaultProcessingOptions())
	require.NoError(t, err)

	failed := waitJob(t, p, job.ID)
	assert.Equal(t, core.JobFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, ErrCallTimeout.Error())
	assert.Contains(t, failed.ErrorMessage, "upserting vectors")
	assert.Zero(t, failed.CompletedChunks)
}

func TestPipeline_SkipsGraphWhenDisabled(t *testing.T) {
	env := setupEnv(t)
	p := env.pipeline(t, WithExtractor(staticExtractor(syntheticResult(3))))
	ctx := context.Background()

	opts := core.DefaultProcessingOptions()
	opts.CreateGraph = false
	job, err := p.StartProcessing(ctx, "/virtual/doc.xml", opts)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, waitJob(t, p, job.ID).Status)

	stats, err := env.graph.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalNodes)
}

func TestPipeline_DeleteJob(t *testing.T) {
	env := setupEnv(t)
	gate := make(chan struct{})
	p := env.pipeline(t, WithExtractor(gatedExtractor(syntheticResult(2), gate)))
	ctx := context.Background()

	job, err := p.StartProcessing(ctx, "/virtual/doc.xml", core.DefaultProcessingOptions())
	require.NoError(t, err)

	err = p.DeleteJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobActive)
	_, err = p.Resume(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobActive)

	close(gate)
	waitJob(t, p, job.ID)

	require.NoError(t, p.DeleteJob(ctx, job.ID))
	_, err = p.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, p.DeleteJob(ctx, job.ID), ErrJobNotFound)
}

func TestPipeline_UnknownJob(t *testing.T) {
	env := setupEnv(t)
	p := env.pipeline(t)
	ctx := context.Background()

	_, err := p.Resume(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = p.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = p.Subscribe(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = p.Wait(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestPipeline_CompletedJobIsNotResumable(t *testing.T) {
	env := setupEnv(t)
	p := env.pipeline(t, WithExtractor(staticExtractor(syntheticResult(1))))
	ctx := context.Background()

	job, err := p.StartProcessing(ctx, "/virtual/doc.xml", core.DefaultProcessingOptions())
	require.NoError(t, err)
	waitJob(t, p, job.ID)

	_, err = p.Resume(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotResumable)
	_, err = p.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobTerminal)
}

func TestPipeline_ConcurrentJobs(t *testing.T) {
	env := setupEnv(t)
	p := env.pipeline(t, WithPoolSize(2), WithBatchSize(3), WithExtractor(staticExtractor(syntheticResult(7))))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		job, err := p.StartProcessing(ctx, fmt.Sprintf("/virtual/doc-%d.xml", i), core.DefaultProcessingOptions())
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		job := waitJob(t, p, id)
		assert.Equal(t, core.JobCompleted, job.Status, job.ErrorMessage)
		assert.Equal(t, 7, job.CompletedChunks)
	}

	jobs, err := p.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 5)
}

func TestPipeline_ExtractionPoolIsBounded(t *testing.T) {
	env := setupEnv(t)
	var inFlight, peak atomic.Int32
	extract := func(context.Context, string, core.ProcessingOptions) (*core.ExtractionResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		return syntheticResult(2), nil
	}
	p := env.pipeline(t, WithPoolSize(2), WithExtractor(extract))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 8; i++ {
		job, err := p.StartProcessing(ctx, fmt.Sprintf("/virtual/queued-%d.xml", i), core.DefaultProcessingOptions())
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		job := waitJob(t, p, id)
		assert.Equal(t, core.JobCompleted, job.Status, job.ErrorMessage)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Positive(t, peak.Load())
}

func TestPipeline_SubscribeKeepalive(t *testing.T) {
	env := setupEnv(t)
	gate := make(chan struct{})
	p := env.pipeline(t, WithKeepalive(20*time.Millisecond), WithExtractor(gatedExtractor(syntheticResult(2), gate)))
	ctx := context.Background()

	job, err := p.StartProcessing(ctx, "/virtual/doc.xml", core.DefaultProcessingOptions())
	require.NoError(t, err)
	updates, err := p.Subscribe(ctx, job.ID)
	require.NoError(t, err)

	sawKeepalive := false
	deadline := time.After(5 * time.Second)
	for !sawKeepalive {
		select {
		case u := <-updates:
			sawKeepalive = u.Stage == core.StageKeepalive
		case <-deadline:
			t.Fatal("no keepalive received")
		}
	}

	close(gate)
	seen := collect(t, updates)
	require.NotEmpty(t, seen)
	assert.Equal(t, core.StageCompleted, seen[len(seen)-1].Stage)
}

func TestPipeline_SubscribeStopsWhenConsumerLeaves(t *testing.T) {
	env := setupEnv(t)
	gate := make(chan struct{})
	defer close(gate)
	p := env.pipeline(t, WithExtractor(gatedExtractor(syntheticResult(2), gate)))

	job, err := p.StartProcessing(context.Background(), "/virtual/doc.xml", core.DefaultProcessingOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := p.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	snapshot := <-updates
	assert.Equal(t, job.ID, snapshot.JobID)

	cancel()
	for range updates {
	}
	require.Eventually(t, func() bool { return p.broker.subscribers(job.ID) == 0 }, time.Second, 5*time.Millisecond)
}

func TestPipeline_CloseLeavesJobRunning(t *testing.T) {
	env := setupEnv(t)
	blocked := make(chan struct{})
	p, err := NewPipeline(env.jobs, env.embedder, env.vectors, env.graph,
		WithExtractor(gatedExtractor(syntheticResult(4), blocked)))
	require.NoError(t, err)
	ctx := context.Background()

	job, err := p.StartProcessing(ctx, "/virtual/doc.xml", core.DefaultProcessingOptions())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, err := env.jobs.GetJob(ctx, job.ID)
		return err == nil && j.Status == core.JobRunning
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	interrupted, err := env.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobRunning, interrupted.Status)

	_, err = p.StartProcessing(ctx, "/virtual/other.xml", core.DefaultProcessingOptions())
	assert.ErrorIs(t, err, ErrPipelineClosed)

	// next startup
	n, err := env.jobs.MarkInterruptedResumable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	restarted := env.pipeline(t, WithExtractor(staticExtractor(syntheticResult(4))))
	resumable, err := restarted.ResumableJobs(ctx)
	require.NoError(t, err)
	require.Len(t, resumable, 1)

	_, err = restarted.Resume(ctx, job.ID)
	require.NoError(t, err)
	done := waitJob(t, restarted, job.ID)
	assert.Equal(t, core.JobCompleted, done.Status)
	assert.Equal(t, 4, done.CompletedChunks)
}

func TestBroker(t *testing.T) {
	b := newBroker()
	sub := b.subscribe("job")
	other := b.subscribe("other")

	b.publish(core.ProgressUpdate{JobID: "job", Stage: core.StageParsing, Progress: 0.05})
	b.publish(core.ProgressUpdate{JobID: "job", Stage: core.StageCompleted, Progress: 1})
	b.publish(core.ProgressUpdate{JobID: "job", Stage: core.StageStoringVectors, Progress: 0.5})

	got := sub.drain()
	require.Len(t, got, 2, "updates after a terminal one are dropped")
	assert.Equal(t, core.StageParsing, got[0].Stage)
	assert.Equal(t, core.StageCompleted, got[1].Stage)
	assert.Empty(t, other.drain())
	assert.Empty(t, sub.drain())

	last, ok := b.lastUpdate("job")
	require.True(t, ok)
	assert.Equal(t, core.StageCompleted, last.Stage)

	b.reset("job")
	b.publish(core.ProgressUpdate{JobID: "job", Stage: core.StageParsing, Progress: 0.05})
	assert.Len(t, sub.drain(), 1)

	b.unsubscribe(sub)
	b.unsubscribe(other)
	assert.Zero(t, b.subscribers("job"))
	_, ok = b.lastUpdate("nobody")
	assert.False(t, ok)
}

func TestBroker_ForgetsFinishedJobs(t *testing.T) {
	b := newBroker()
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	sub := b.subscribe("watched")
	b.publish(core.ProgressUpdate{JobID: "watched", Stage: core.StageCompleted, Progress: 1})
	b.publish(core.ProgressUpdate{JobID: "quiet", Stage: core.StageFailed, Error: "boom"})
	b.publish(core.ProgressUpdate{JobID: "busy", Stage: core.StageEmbedding, Progress: 0.5})

	// within the grace period late updates are still dropped
	b.publish(core.ProgressUpdate{JobID: "quiet", Stage: core.StageEmbedding, Progress: 0.6})
	last, ok := b.lastUpdate("quiet")
	require.True(t, ok)
	assert.Equal(t, core.StageFailed, last.Stage)

	clock = clock.Add(terminalGrace)
	b.publish(core.ProgressUpdate{JobID: "busy", Stage: core.StageEmbedding, Progress: 0.7})
	_, ok = b.lastUpdate("quiet")
	assert.False(t, ok, "finished job without subscribers is forgotten")
	_, ok = b.lastUpdate("watched")
	assert.True(t, ok, "kept while subscribed")
	_, ok = b.lastUpdate("busy")
	assert.True(t, ok, "running jobs are kept")

	b.unsubscribe(sub)
	_, ok = b.lastUpdate("watched")
	assert.False(t, ok)
	assert.Empty(t, b.finished)
	assert.Len(t, b.last, 1)
}
