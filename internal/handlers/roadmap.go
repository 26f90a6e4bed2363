package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tracegraph/genealogy-backend/internal/graph"
	"github.com/tracegraph/genealogy-backend/internal/logger"
	"github.com/tracegraph/genealogy-backend/internal/normalization"
	"github.com/tracegraph/genealogy-backend/internal/services"
	"github.com/tracegraph/genealogy-backend/internal/types"
)

type RoadmapHandler struct {
	log            *logger.Logger
	roadmapService services.RoadmapService
}

func NewRoadmapHandler(log *logger.Logger, roadmapService services.RoadmapService) *RoadmapHandler {
	return &RoadmapHandler{
		log:            log.With("handler", "RoadmapHandler"),
		roadmapService: roadmapService,
	}
}

type RoadmapRequest struct {
	Concept string `json:"concept" binding:"required,min=2"`
}

type ExpandRequest struct {
	Concept     string `json:"concept" binding:"required"`
	ParentNode  string `json:"parent_node"`
	ParentID    string `json:"parent_id" binding:"required"`
	ContextType string `json:"context_type" binding:"required,oneof=root core path"`
}

func (h *RoadmapHandler) CreateRoadmap(c *gin.Context) {
	var req RoadmapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	roadmap, fromCache, err := h.roadmapService.GetOrCreateRoadmap(c.Request.Context(), req.Concept)
	if err != nil {
		h.log.Error("CreateRoadmap failed", "concept", req.Concept, "error", err)
		RespondError(c, statusForError(err), "generation_failed", err)
		return
	}

	if fromCache {
		c.Header("X-Roadmap-Cache", "hit")
	} else {
		c.Header("X-Roadmap-Cache", "miss")
	}
	RespondOK(c, roadmap)
}

func (h *RoadmapHandler) ExpandRoadmap(c *gin.Context) {
	var req ExpandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	slug := normalization.Slug(req.Concept)
	delta, err := h.roadmapService.ExpandRoadmap(
		c.Request.Context(),
		slug,
		req.ParentID,
		req.ParentNode,
		types.NodeType(req.ContextType),
	)
	if err != nil {
		h.log.Error("ExpandRoadmap failed", "slug", slug, "parent_id", req.ParentID, "error", err)
		RespondError(c, statusForError(err), "expansion_failed", err)
		return
	}
	RespondOK(c, delta)
}

func (h *RoadmapHandler) Trending(c *gin.Context) {
	limit := 10
	if v, ok := c.GetQuery("limit"); ok {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	items, err := h.roadmapService.Trending(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("Trending failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "trending_failed", err)
		return
	}
	RespondOK(c, items)
}

// statusForError is the transport mapping for the subsystem's error
// taxonomy. ErrAlreadyExists never shows up here: the service converts the
// create race into a cache read before returning.
func statusForError(err error) int {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrGenerationFailed), errors.Is(err, graph.ErrNoNewContent):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
