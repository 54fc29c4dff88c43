package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/search"
	"github.com/poiesic/grundgraph/storage"
)

type searchRequest struct {
	Query      string          `json:"query"`
	TopK       int             `json:"top_k"`
	DocumentID string          `json:"document_id"`
	EntityType core.EntityType `json:"entity_type"`
	Strategy   string          `json:"strategy"`
	Depth      int             `json:"depth"`
	Collection string          `json:"collection"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.handleError(c, NewAppError(http.StatusBadRequest, "invalid request body", err))
		return
	}
	strategy, err := search.ParseStrategy(req.Strategy)
	if err != nil {
		s.handleError(c, err)
		return
	}

	results, err := s.svc.Searcher().Search(c.Request.Context(), req.Query, search.Options{
		TopK:       req.TopK,
		DocumentID: req.DocumentID,
		EntityType: req.EntityType,
		Strategy:   strategy,
		Depth:      req.Depth,
		Collection: req.Collection,
	})
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query":    req.Query,
		"strategy": strategy,
		"results":  newResultViews(results),
	})
}

// handleExplore returns the neighbourhood of an entity. Query parameters:
// depth, direction (out|in|both) and types (comma separated relationship types).
func (s *Server) handleExplore(c *gin.Context) {
	depth := 0
	if raw := c.Query("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 1 {
			s.handleError(c, NewAppError(http.StatusBadRequest, "depth must be a positive integer", err))
			return
		}
		depth = d
	}

	direction := storage.Direction(c.DefaultQuery("direction", string(storage.DirectionBoth)))
	switch direction {
	case storage.DirectionOut, storage.DirectionIn, storage.DirectionBoth:
	default:
		s.handleError(c, NewAppError(http.StatusBadRequest, "direction must be out, in or both", nil))
		return
	}

	var relTypes []core.RelationshipType
	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				relTypes = append(relTypes, core.RelationshipType(t))
			}
		}
	}

	sub, err := s.svc.Graph().Explore(c.Request.Context(), c.Param("id"), depth, direction, relTypes)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSubgraphView(sub))
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := s.svc.Graph().Stats(ctx)
	if err != nil {
		s.handleError(c, err)
		return
	}
	chunks, err := s.svc.Vectors().Count(ctx, s.svc.Collection())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, statsView{
		TotalNodes:          stats.TotalNodes,
		TotalEdges:          stats.TotalEdges,
		NodesByType:         stats.NodesByType,
		RelationshipsByType: stats.RelationshipsByType,
		Documents:           stats.Documents,
		Chunks:              chunks,
	})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	id := c.Param("id")
	chunks, nodes, err := s.svc.DeleteDocument(c.Request.Context(), id)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document_id":    id,
		"chunks_deleted": chunks,
		"nodes_deleted":  nodes,
	})
}
