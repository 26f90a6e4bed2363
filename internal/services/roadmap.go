package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redisclient "github.com/tracegraph/genealogy-backend/internal/clients/redis"
	"github.com/tracegraph/genealogy-backend/internal/graph"
	"github.com/tracegraph/genealogy-backend/internal/logger"
	"github.com/tracegraph/genealogy-backend/internal/normalization"
	"github.com/tracegraph/genealogy-backend/internal/repos"
	"github.com/tracegraph/genealogy-backend/internal/types"
)

type TrendingItem struct {
	Concept   string    `json:"concept"`
	Slug      string    `json:"slug"`
	Views     int64     `json:"views"`
	CreatedAt time.Time `json:"created_at"`
}

// RoadmapService orchestrates the cache-or-generate flow. It holds no locks
// of its own: the store's slug uniqueness constraint arbitrates concurrent
// first-time requests, and a create that loses that race falls back to
// reading the winner's document.
type RoadmapService interface {
	GetOrCreateRoadmap(ctx context.Context, concept string) (*types.Roadmap, bool, error)
	ExpandRoadmap(ctx context.Context, slug, parentID, parentLabel string, contextType types.NodeType) (types.GraphData, error)
	Trending(ctx context.Context, limit int) ([]TrendingItem, error)
}

type roadmapService struct {
	log           *logger.Logger
	roadmapRepo   repos.RoadmapRepo
	generator     GeneratorClient
	trendingCache redisclient.TrendingCache
}

// NewRoadmapService wires the service. trendingCache may be nil; trending
// reads then always go to the database.
func NewRoadmapService(log *logger.Logger, roadmapRepo repos.RoadmapRepo, generator GeneratorClient, trendingCache redisclient.TrendingCache) RoadmapService {
	return &roadmapService{
		log:           log.With("service", "RoadmapService"),
		roadmapRepo:   roadmapRepo,
		generator:     generator,
		trendingCache: trendingCache,
	}
}

func (s *roadmapService) GetOrCreateRoadmap(ctx context.Context, concept string) (*types.Roadmap, bool, error) {
	slug := normalization.Slug(concept)

	_, err := s.roadmapRepo.GetBySlug(ctx, nil, slug)
	if err == nil {
		s.log.Info("Serving roadmap from cache", "slug", slug)
		updated, err := s.roadmapRepo.IncrementViews(ctx, nil, slug)
		if err != nil {
			return nil, false, err
		}
		return updated, true, nil
	}
	if !errors.Is(err, graph.ErrNotFound) {
		return nil, false, err
	}

	// Cache miss: the generation call runs with no store-level lock held.
	s.log.Info("Generating roadmap", "slug", slug, "concept", concept)
	frag, err := s.generator.GenerateRoadmap(ctx, concept)
	if err != nil {
		return nil, false, err
	}

	doc, err := graph.MergeInitial(strings.TrimSpace(concept), slug, frag)
	if err != nil {
		if graph.IsValidationError(err) || errors.Is(err, graph.ErrNoNewContent) {
			s.log.Warn("Generated fragment rejected", "slug", slug, "error", err)
			return nil, false, fmt.Errorf("%w: %v", graph.ErrGenerationFailed, err)
		}
		return nil, false, err
	}

	roadmap := &types.Roadmap{
		ConceptSlug: slug,
		Title:       strings.TrimSpace(concept),
		Views:       1,
	}
	if err := roadmap.SetGraph(doc); err != nil {
		return nil, false, err
	}

	created, err := s.roadmapRepo.Create(ctx, nil, roadmap)
	if err == nil {
		return created, false, nil
	}
	if !errors.Is(err, graph.ErrAlreadyExists) {
		return nil, false, err
	}

	// Lost the create race: another request stored this slug first. Serve
	// the winner's document as a cache hit rather than surfacing the
	// conflict.
	s.log.Info("Create lost slug race, re-reading", "slug", slug)
	winner, err := s.roadmapRepo.IncrementViews(ctx, nil, slug)
	if err != nil {
		return nil, false, err
	}
	return winner, true, nil
}

func (s *roadmapService) ExpandRoadmap(ctx context.Context, slug, parentID, parentLabel string, contextType types.NodeType) (types.GraphData, error) {
	target, err := s.roadmapRepo.GetBySlug(ctx, nil, slug)
	if err != nil {
		return types.GraphData{}, err
	}

	doc, err := target.Graph()
	if err != nil {
		return types.GraphData{}, fmt.Errorf("decoding stored graph for %q: %w", slug, err)
	}

	if !doc.NodeIDs()[parentID] {
		return types.GraphData{}, fmt.Errorf("%w: parent node %q in %q", graph.ErrNotFound, parentID, slug)
	}
	if parentLabel == "" {
		for _, n := range doc.Nodes {
			if n.ID == parentID {
				parentLabel = n.Label
				break
			}
		}
	}

	s.log.Info("Generating expansion", "slug", slug, "parent_id", parentID, "context_type", contextType)
	frag, err := s.generator.GenerateExpansion(ctx, target.Title, parentLabel, parentID, contextType)
	if err != nil {
		return types.GraphData{}, err
	}

	delta, err := graph.MergeExpansion(doc, parentID, contextType, frag)
	if err != nil {
		if graph.IsValidationError(err) {
			s.log.Warn("Expansion fragment rejected", "slug", slug, "parent_id", parentID, "error", err)
			return types.GraphData{}, fmt.Errorf("%w: %v", graph.ErrGenerationFailed, err)
		}
		return types.GraphData{}, err
	}

	if _, err := s.roadmapRepo.AppendFragment(ctx, nil, slug, delta); err != nil {
		return types.GraphData{}, err
	}
	return delta, nil
}

func (s *roadmapService) Trending(ctx context.Context, limit int) ([]TrendingItem, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	if s.trendingCache != nil {
		if raw, ok := s.trendingCache.Get(ctx, limit); ok {
			var items []TrendingItem
			if err := json.Unmarshal(raw, &items); err == nil {
				return items, nil
			}
		}
	}

	rows, err := s.roadmapRepo.Trending(ctx, nil, limit)
	if err != nil {
		return nil, err
	}

	items := make([]TrendingItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, TrendingItem{
			Concept:   r.Title,
			Slug:      r.ConceptSlug,
			Views:     r.Views,
			CreatedAt: r.CreatedAt,
		})
	}

	if s.trendingCache != nil {
		if raw, err := json.Marshal(items); err == nil {
			s.trendingCache.Set(ctx, limit, raw)
		}
	}
	return items, nil
}
