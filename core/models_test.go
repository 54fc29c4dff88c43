package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "plain term", content: "Informationssicherheit"},
		{name: "empty string", content: ""},
		{name: "long content", content: "This is a much longer piece of content that should still hash consistently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, IDFromContent(tt.content), IDFromContent(tt.content))
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	assert.NotEqual(t, IDFromContent("content1"), IDFromContent("content2"))
}

func TestIDString(t *testing.T) {
	s := IDFromContent("ISB").String()
	assert.Len(t, s, 16)
	assert.Equal(t, s, IDFromContent("ISB").String())
}

func TestDocumentIDFromBytes(t *testing.T) {
	a := DocumentIDFromBytes([]byte("<book/>"))
	b := DocumentIDFromBytes([]byte("<book/>"))
	c := DocumentIDFromBytes([]byte("<book></book>"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestEntityAndChunkIDs(t *testing.T) {
	id := EntityID(EntityTypeRequirement, "ORP.1.A1")
	assert.Equal(t, "requirement:ORP.1.A1", id)

	chunkID := ChunkID(id, 3)
	assert.Equal(t, "requirement:ORP.1.A1:chunk:3", chunkID)

	owner, ok := EntityIDFromChunkID(chunkID)
	require.True(t, ok)
	assert.Equal(t, id, owner)

	_, ok = EntityIDFromChunkID("requirement:ORP.1.A1")
	assert.False(t, ok)
}

func TestHashedEntityID(t *testing.T) {
	a := HashedEntityID(EntityTypeGlossaryTerm, "Informationssicherheit")
	b := HashedEntityID(EntityTypeGlossaryTerm, "Informationssicherheit")
	c := HashedEntityID(EntityTypeRole, "Informationssicherheit")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "glossary_term:")
}

func TestMetadataClone(t *testing.T) {
	m := Metadata{MetaRoles: []string{"ISB"}, MetaTier: "B"}
	c := m.Clone()
	c.Strings(MetaRoles)[0] = "changed"

	assert.Equal(t, "ISB", m.Strings(MetaRoles)[0])
	assert.Equal(t, "B", c.String(MetaTier))
	assert.Nil(t, Metadata(nil).Clone())
}

func TestTierName(t *testing.T) {
	assert.Equal(t, "Basis", TierBasis.Name())
	assert.Equal(t, "Standard", TierStandard.Name())
	assert.Equal(t, "Hoch", TierElevated.Name())
	assert.Empty(t, Tier("X").Name())
}

func TestJobStatusPredicates(t *testing.T) {
	assert.True(t, JobCompleted.IsTerminal())
	assert.True(t, JobFailed.IsTerminal())
	assert.True(t, JobCancelled.IsTerminal())
	assert.False(t, JobRunning.IsTerminal())
	assert.False(t, JobResumable.IsTerminal())

	assert.True(t, JobRunning.CanResume())
	assert.True(t, JobFailed.CanResume())
	assert.True(t, JobResumable.CanResume())
	assert.False(t, JobCancelled.CanResume())
	assert.False(t, JobCompleted.CanResume())
	assert.False(t, JobPending.CanResume())
}

func TestSnapshotFromJob(t *testing.T) {
	job := &JobRecord{ID: "j1", Status: JobFailed, Progress: 0.4, ErrorMessage: "boom", TotalChunks: 10, CompletedChunks: 4}
	u := SnapshotFromJob(job)

	assert.Equal(t, "j1", u.JobID)
	assert.Equal(t, StageFailed, u.Stage)
	assert.Equal(t, 0.4, u.Progress)
	assert.Equal(t, "boom", u.Error)
	assert.Equal(t, 4, u.ItemsCompleted)
	assert.Equal(t, 10, u.ItemsTotal)
	assert.True(t, u.Stage.IsTerminal())

	job.Status = JobResumable
	assert.False(t, SnapshotFromJob(job).Stage.IsTerminal())
}

func TestProcessingOptionsWithDefaults(t *testing.T) {
	opts := ProcessingOptions{ChunkSize: 0, TrackDiscontinued: false}.WithDefaults()

	assert.Equal(t, DefaultPreset, opts.Preset)
	assert.Equal(t, 512, opts.ChunkSize)
	assert.Equal(t, 128, opts.ChunkOverlap)
	assert.Equal(t, LinkExactMatch, opts.GlossaryLinking)
	assert.Equal(t, DefaultCollection, opts.CollectionName)
	assert.False(t, opts.TrackDiscontinued)

	custom := ProcessingOptions{ChunkSize: 64, ChunkOverlap: 0}.WithDefaults()
	assert.Equal(t, 64, custom.ChunkSize)
	assert.Equal(t, 0, custom.ChunkOverlap)
}
