package server

import (
	"time"

	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/search"
	"github.com/poiesic/grundgraph/storage"
)

type jobView struct {
	ID              string                 `json:"id"`
	Type            core.JobType           `json:"type"`
	Status          core.JobStatus         `json:"status"`
	Filename        string                 `json:"filename"`
	FilePath        string                 `json:"file_path"`
	DocumentID      string                 `json:"document_id,omitempty"`
	Options         core.ProcessingOptions `json:"options"`
	Progress        float64                `json:"progress"`
	TotalChunks     int                    `json:"total_chunks"`
	CompletedChunks int                    `json:"completed_chunks"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
}

func newJobView(job *core.JobRecord) jobView {
	return jobView{
		ID:              job.ID,
		Type:            job.Type,
		Status:          job.Status,
		Filename:        job.Filename,
		FilePath:        job.FilePath,
		DocumentID:      job.DocumentID,
		Options:         job.Options,
		Progress:        job.Progress,
		TotalChunks:     job.TotalChunks,
		CompletedChunks: job.CompletedChunks,
		ErrorMessage:    job.ErrorMessage,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		StartedAt:       optionalTime(job.StartedAt),
		CompletedAt:     optionalTime(job.CompletedAt),
	}
}

func newJobViews(jobs []*core.JobRecord) []jobView {
	out := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, newJobView(job))
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type nodeView struct {
	ID         string          `json:"id"`
	Type       core.EntityType `json:"type"`
	Title      string          `json:"title"`
	Content    string          `json:"content,omitempty"`
	BookmarkID string          `json:"bookmark_id,omitempty"`
	ParentID   string          `json:"parent_id,omitempty"`
	DocumentID string          `json:"document_id,omitempty"`
	Metadata   core.Metadata   `json:"metadata,omitempty"`
}

func newNodeView(n *storage.Node) nodeView {
	return nodeView{
		ID:         n.ID,
		Type:       n.Type,
		Title:      n.Title,
		Content:    n.Content,
		BookmarkID: n.BookmarkID,
		ParentID:   n.ParentID,
		DocumentID: n.DocumentID,
		Metadata:   n.Metadata,
	}
}

type edgeView struct {
	Source   string                `json:"source"`
	Target   string                `json:"target"`
	Type     core.RelationshipType `json:"type"`
	Metadata core.Metadata         `json:"metadata,omitempty"`
}

type subgraphView struct {
	Center       *nodeView  `json:"center"`
	Nodes        []nodeView `json:"nodes"`
	Edges        []edgeView `json:"edges"`
	DepthReached int        `json:"depth_reached"`
}

func newSubgraphView(sub *storage.Subgraph) *subgraphView {
	if sub == nil {
		return nil
	}
	v := &subgraphView{
		Nodes:        make([]nodeView, 0, len(sub.Nodes)),
		Edges:        make([]edgeView, 0, len(sub.Edges)),
		DepthReached: sub.DepthReached,
	}
	if sub.Center != nil {
		center := newNodeView(sub.Center)
		v.Center = &center
	}
	for i := range sub.Nodes {
		v.Nodes = append(v.Nodes, newNodeView(&sub.Nodes[i]))
	}
	for _, e := range sub.Edges {
		v.Edges = append(v.Edges, edgeView{Source: e.SourceID, Target: e.TargetID, Type: e.Type, Metadata: e.Metadata})
	}
	return v
}

type resultView struct {
	ChunkID       string          `json:"chunk_id"`
	Score         float32         `json:"score"`
	Source        search.Source   `json:"source"`
	Verbatim      bool            `json:"verbatim"`
	Content       string          `json:"content"`
	DocumentID    string          `json:"document_id"`
	Filename      string          `json:"filename"`
	EntityID      string          `json:"entity_id"`
	EntityType    core.EntityType `json:"entity_type"`
	ChunkIndex    int             `json:"chunk_index"`
	TotalChunks   int             `json:"total_chunks"`
	BookmarkID    string          `json:"bookmark_id,omitempty"`
	GlossaryTerms []string        `json:"glossary_term_ids,omitempty"`
	Metadata      core.Metadata   `json:"metadata,omitempty"`
	Via           string          `json:"via,omitempty"`
	Context       *subgraphView   `json:"context,omitempty"`
}

func newResultViews(results []*search.Result) []resultView {
	out := make([]resultView, 0, len(results))
	for _, r := range results {
		out = append(out, resultView{
			ChunkID:       r.ChunkID,
			Score:         r.Score,
			Source:        r.Source,
			Verbatim:      r.Verbatim,
			Content:       r.Payload.Content,
			DocumentID:    r.Payload.DocumentID,
			Filename:      r.Payload.Filename,
			EntityID:      r.Payload.EntityID,
			EntityType:    r.Payload.EntityType,
			ChunkIndex:    r.Payload.ChunkIndex,
			TotalChunks:   r.Payload.TotalChunks,
			BookmarkID:    r.Payload.BookmarkID,
			GlossaryTerms: r.Payload.GlossaryTermIDs,
			Metadata:      r.Payload.Metadata,
			Via:           r.Via,
			Context:       newSubgraphView(r.Context),
		})
	}
	return out
}

type statsView struct {
	TotalNodes          int                           `json:"total_nodes"`
	TotalEdges          int                           `json:"total_edges"`
	NodesByType         map[core.EntityType]int       `json:"nodes_by_type"`
	RelationshipsByType map[core.RelationshipType]int `json:"relationships_by_type"`
	Documents           int                           `json:"documents"`
	Chunks              int                           `json:"chunks"`
}
