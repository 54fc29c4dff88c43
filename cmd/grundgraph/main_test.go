package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/poiesic/grundgraph"
	"github.com/poiesic/grundgraph/ai/mock"
	"github.com/poiesic/grundgraph/config"
	"github.com/poiesic/grundgraph/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const kompendium = `<book xmlns="http://docbook.org/ns/docbook">
  <chapter><title>Organisation</title>
    <section><title>ORP.1 Organisation</title>
      <section><title>Beschreibung</title><para>Die Institution regelt ihre Organisation.</para></section>
      <section><title>ORP.1.A1 Festlegung von Verantwortlichkeiten (B) [ISB]</title>
        <para>Regelungen sind festzulegen, siehe ORP.2.</para></section>
    </section>
  </chapter>
</book>`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"grundgraph", "--log-level", "error"}, args...))
	return out.String(), err
}

func writeDocument(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kompendium.xml")
	require.NoError(t, os.WriteFile(path, []byte(kompendium), 0o644))
	return path
}

// seed opens the data directory with a mock provider, runs fn and closes it
// again so the CLI can take the database lock.
func seed(t *testing.T, dataDir string, fn func(svc *grundgraph.Service)) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = dataDir
	svc, err := grundgraph.Open(context.Background(), cfg, grundgraph.WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	fn(svc)
	require.NoError(t, svc.Close())
}

func findFlag[T cli.Flag](t *testing.T, cmd *cli.Command, name string) T {
	t.Helper()
	for _, flag := range cmd.Flags {
		if f, ok := flag.(T); ok && slices.Contains(flag.Names(), name) {
			return f
		}
	}
	require.Failf(t, "flag not found", "%s has no flag %s", cmd.Name, name)
	var zero T
	return zero
}

func TestSetupLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "INFO"} {
		err := newApp(io.Discard).Run([]string{"grundgraph", "--log-level", level, "search"})
		// the logger accepted the level; the command itself fails without a query
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query is required", level)
	}

	err := newApp(io.Discard).Run([]string{"grundgraph", "--log-level", "loud", "search", "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestCommandFlags(t *testing.T) {
	app := newApp(io.Discard)
	commands := make(map[string]*cli.Command)
	for _, cmd := range app.Commands {
		commands[cmd.Name] = cmd
	}
	for _, name := range []string{"extract", "ingest", "jobs", "serve", "search", "explore", "reembed"} {
		require.Contains(t, commands, name)
	}

	t.Run("reembed defaults", func(t *testing.T) {
		cmd := commands["reembed"]
		assert.Equal(t, 100, findFlag[*cli.IntFlag](t, cmd, "batch-size").Value)
		assert.Equal(t, 100, findFlag[*cli.IntFlag](t, cmd, "report-interval").Value)
		assert.Equal(t, 3, findFlag[*cli.IntFlag](t, cmd, "max-retries").Value)
		assert.Empty(t, findFlag[*cli.StringFlag](t, cmd, "embedding-model").Value)
	})

	t.Run("search defaults", func(t *testing.T) {
		cmd := commands["search"]
		assert.Equal(t, 10, findFlag[*cli.IntFlag](t, cmd, "top-k").Value)
		assert.Equal(t, "none", findFlag[*cli.StringFlag](t, cmd, "strategy").Value)
	})

	t.Run("jobs subcommands", func(t *testing.T) {
		var names []string
		for _, sub := range commands["jobs"].Subcommands {
			names = append(names, sub.Name)
		}
		assert.ElementsMatch(t, []string{"list", "resumable", "show", "resume", "cancel", "delete", "cleanup"}, names)
	})
}

func TestExtract(t *testing.T) {
	doc := writeDocument(t)

	out, err := run(t, "extract", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "kompendium.xml")
	assert.Contains(t, out, "requirement")
	assert.Contains(t, out, "BELONGS_TO")

	out, err = run(t, "extract", "--json", "--chunk-size", "64", "--chunk-overlap", "8", doc)
	require.NoError(t, err)
	var result core.ExtractionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.NotEmpty(t, result.DocumentID)
	assert.NotEmpty(t, result.Chunks)
}

func TestExtract_Errors(t *testing.T) {
	_, err := run(t, "extract")
	require.Error(t, err)

	_, err = run(t, "extract", "--chunk-size", "10", "--chunk-overlap", "20", writeDocument(t))
	require.ErrorIs(t, err, core.ErrInvalidOptions)

	_, err = run(t, "extract", filepath.Join(t.TempDir(), "missing.xml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraction failed")
}

func TestJobs(t *testing.T) {
	dataDir := t.TempDir()

	out, err := run(t, "--data-dir", dataDir, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs")

	var jobID string
	seed(t, dataDir, func(svc *grundgraph.Service) {
		job, err := svc.Jobs().CreateJob(context.Background(), core.JobTypeXMLIngestion, "a.xml", "/nowhere/a.xml", core.DefaultProcessingOptions())
		require.NoError(t, err)
		jobID = job.ID
	})

	out, err = run(t, "--data-dir", dataDir, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, jobID)
	assert.Contains(t, out, "pending")

	out, err = run(t, "--data-dir", dataDir, "jobs", "show", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, "/nowhere/a.xml")
	assert.Contains(t, out, core.DefaultCollection)

	out, err = run(t, "--data-dir", dataDir, "jobs", "resumable")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs")

	out, err = run(t, "--data-dir", dataDir, "jobs", "cancel", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	_, err = run(t, "--data-dir", dataDir, "jobs", "resume", jobID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not resumable")

	out, err = run(t, "--data-dir", dataDir, "jobs", "delete", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	_, err = run(t, "--data-dir", dataDir, "jobs", "show", jobID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")

	_, err = run(t, "--data-dir", dataDir, "jobs", "show")
	require.Error(t, err)
}

func TestJobsCleanup(t *testing.T) {
	dataDir := t.TempDir()
	out, err := run(t, "--data-dir", dataDir, "jobs", "cleanup", "--retention-days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 jobs finished more than 7 days ago")
}

func TestExplore(t *testing.T) {
	dataDir := t.TempDir()
	seed(t, dataDir, func(svc *grundgraph.Service) {
		ctx := context.Background()
		g := svc.Graph()
		require.NoError(t, g.CreateNodes(ctx, []core.Entity{
			{ID: "building_block:ORP.1", Type: core.EntityTypeBuildingBlock, Title: "ORP.1 Organisation"},
			{ID: "requirement:ORP.1.A1", Type: core.EntityTypeRequirement, Title: "ORP.1.A1 Festlegung"},
		}, "doc-1"))
		require.NoError(t, g.CreateRelationship(ctx, core.Relationship{
			SourceID: "requirement:ORP.1.A1", TargetID: "building_block:ORP.1", Type: core.RelBelongsTo,
		}))
	})

	out, err := run(t, "--data-dir", dataDir, "explore", "building_block:ORP.1")
	require.NoError(t, err)
	assert.Contains(t, out, "ORP.1 Organisation")
	assert.Contains(t, out, "requirement:ORP.1.A1 -[BELONGS_TO]-> building_block:ORP.1")

	_, err = run(t, "--data-dir", dataDir, "explore", "--direction", "sideways", "building_block:ORP.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid direction")

	_, err = run(t, "--data-dir", dataDir, "explore", "building_block:NOPE")
	require.Error(t, err)
}

func TestSearch_InvalidStrategy(t *testing.T) {
	_, err := run(t, "search", "--strategy", "psychic", "Verantwortlichkeiten")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown")
}

func TestProgressPrinter(t *testing.T) {
	updates := []core.ProgressUpdate{
		{Stage: core.StageParsing, Progress: 0.05, Message: "parsing kompendium.xml"},
		{Stage: core.StageKeepalive, Progress: 0.05, Message: "keepalive"},
		{Stage: core.StageEmbedding, Progress: 0.5, Message: "16/32 chunks"},
		{Stage: core.StageCompleted, Progress: 1, Message: "job completed"},
	}

	t.Run("lines when not a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		p := newProgressPrinter(&buf)
		assert.False(t, p.live)
		for _, u := range updates {
			p.print(u)
		}
		p.done()
		assert.Equal(t, "[parsing        ]   5.0% parsing kompendium.xml\n"+
			"[embedding      ]  50.0% 16/32 chunks\n"+
			"[completed      ] 100.0% job completed\n", buf.String())
	})

	t.Run("redraws in place on a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		p := &progressPrinter{out: &buf, live: true}
		for _, u := range updates {
			p.print(u)
		}
		p.done()
		out := buf.String()
		assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\r")))
		assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")), "one newline after the terminal update")
		assert.NotContains(t, out, "keepalive")
		assert.Contains(t, out, "\r[completed      ] 100.0% job completed")
	})

	t.Run("files are not terminals", func(t *testing.T) {
		f, err := os.CreateTemp(t.TempDir(), "progress")
		require.NoError(t, err)
		defer f.Close()
		assert.False(t, isTerminal(f))
	})
}
