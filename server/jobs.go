package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/docbook"
)

type createJobRequest struct {
	FilePath string                  `json:"file_path"`
	Options  *core.ProcessingOptions `json:"options"`
}

func (s *Server) handlePresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": docbook.Presets()})
}

// handleCreateJob starts processing a document already on the server's disk.
// Options not named in the request keep their configured defaults.
func (s *Server) handleCreateJob(c *gin.Context) {
	defaults := s.svc.ProcessingDefaults()
	req := createJobRequest{Options: &defaults}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.handleError(c, NewAppError(http.StatusBadRequest, "invalid request body", err))
		return
	}
	if req.Options == nil {
		req.Options = &defaults
	}
	if err := checkDocument(req.FilePath); err != nil {
		s.handleError(c, err)
		return
	}
	s.startJob(c, req.FilePath, *req.Options)
}

// handleUpload stores a multipart "file" in the upload directory and starts
// processing it. An optional "options" form field carries JSON options.
func (s *Server) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		s.handleError(c, NewAppError(http.StatusBadRequest, "missing file", err))
		return
	}
	name := filepath.Base(fh.Filename)
	if !isXML(name) {
		s.handleError(c, NewAppError(http.StatusBadRequest, "file must be an XML file", nil))
		return
	}
	opts := s.svc.ProcessingDefaults()
	if raw := c.PostForm("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			s.handleError(c, NewAppError(http.StatusBadRequest, "invalid options", err))
			return
		}
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.handleError(c, err)
		return
	}
	dst := filepath.Join(s.uploadDir, name)
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		s.handleError(c, err)
		return
	}
	s.startJob(c, dst, opts)
}

func (s *Server) startJob(c *gin.Context, path string, opts core.ProcessingOptions) {
	job, err := s.svc.Pipeline().StartProcessing(c.Request.Context(), path, opts)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newJobView(job))
}

func checkDocument(path string) error {
	if path == "" {
		return NewAppError(http.StatusBadRequest, "file_path is required", core.ErrEmptyFilePath)
	}
	if !isXML(path) {
		return NewAppError(http.StatusBadRequest, "file must be an XML file", nil)
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewAppError(http.StatusNotFound, fmt.Sprintf("file not found: %s", path), err)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return NewAppError(http.StatusBadRequest, fmt.Sprintf("%s is a directory", path), nil)
	}
	return nil
}

func isXML(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".xml")
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs, err := s.svc.Pipeline().ListJobs(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": newJobViews(jobs), "total": len(jobs)})
}

func (s *Server) handleResumableJobs(c *gin.Context) {
	jobs, err := s.svc.Pipeline().ResumableJobs(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": newJobViews(jobs), "total": len(jobs)})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.svc.Pipeline().GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobView(job))
}

// handleStream sends the job's progress as server-sent events until the job
// finishes or the client goes away.
func (s *Server) handleStream(c *gin.Context) {
	updates, err := s.svc.Pipeline().Subscribe(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.handleError(c, err)
		return
	}

	// c.SSEvent sets the event-stream content type.
	h := c.Writer.Header()
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for u := range updates {
		event := "progress"
		if u.Stage == core.StageKeepalive {
			event = "keepalive"
		}
		c.SSEvent(event, u)
		c.Writer.Flush()
	}
}

func (s *Server) handleResume(c *gin.Context) {
	job, err := s.svc.Pipeline().Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newJobView(job))
}

func (s *Server) handleCancel(c *gin.Context) {
	job, err := s.svc.Pipeline().Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobView(job))
}

func (s *Server) handleDeleteJob(c *gin.Context) {
	id := c.Param("id")
	if err := s.svc.Pipeline().DeleteJob(c.Request.Context(), id); err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
