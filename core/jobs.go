package core

import "time"

// JobStatus is the persisted lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	// JobResumable marks a job whose process died mid-run.
	JobResumable JobStatus = "resumable"
)

// IsTerminal reports whether the status ends a run.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanResume reports whether a job in this status may be re-launched.
func (s JobStatus) CanResume() bool {
	return s == JobRunning || s == JobFailed || s == JobResumable
}

// JobType identifies what a job does.
type JobType string

const (
	JobTypeXMLIngestion        JobType = "xml_ingestion"
	JobTypeGraphCreation       JobType = "graph_creation"
	JobTypeEmbeddingGeneration JobType = "embedding_generation"
)

// JobRecord is the durable state of one document processing run.
type JobRecord struct {
	ID              string
	Type            JobType
	Status          JobStatus
	Filename        string
	FilePath        string
	DocumentID      string
	Options         ProcessingOptions
	Progress        float64
	TotalChunks     int
	CompletedChunks int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
}

// Stage names a step of the processing pipeline as reported to listeners.
type Stage string

const (
	StageParsing        Stage = "parsing"
	StageExtracting     Stage = "extracting"
	StageChunking       Stage = "chunking"
	StageEmbedding      Stage = "embedding"
	StageStoringVectors Stage = "storing_vectors"
	StageCreatingGraph  Stage = "creating_graph"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
	StageCancelled      Stage = "cancelled"
	// StageKeepalive marks a heartbeat sent to idle listeners. Never persisted.
	StageKeepalive Stage = "keepalive"
)

// IsTerminal reports whether no further updates follow this stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// ProgressUpdate is one event on a job's progress feed.
type ProgressUpdate struct {
	JobID          string    `json:"job_id"`
	Stage          Stage     `json:"stage"`
	Progress       float64   `json:"progress"`
	Message        string    `json:"message"`
	CurrentItem    string    `json:"current_item,omitempty"`
	ItemsCompleted int       `json:"items_completed"`
	ItemsTotal     int       `json:"items_total"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SnapshotFromJob renders the persisted state of a job as a progress update.
func SnapshotFromJob(job *JobRecord) ProgressUpdate {
	u := ProgressUpdate{
		JobID:          job.ID,
		Progress:       job.Progress,
		ItemsCompleted: job.CompletedChunks,
		ItemsTotal:     job.TotalChunks,
		Error:          job.ErrorMessage,
		Message:        "job " + string(job.Status),
		Timestamp:      time.Now().UTC(),
	}
	switch job.Status {
	case JobCompleted:
		u.Stage = StageCompleted
	case JobFailed:
		u.Stage = StageFailed
	case JobCancelled:
		u.Stage = StageCancelled
	case JobRunning:
		if job.TotalChunks > 0 {
			u.Stage = StageStoringVectors
		} else {
			u.Stage = StageParsing
		}
	default:
		u.Stage = StageParsing
	}
	return u
}
