package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tracegraph/genealogy-backend/internal/graph"
	"github.com/tracegraph/genealogy-backend/internal/logger"
	"github.com/tracegraph/genealogy-backend/internal/repos"
	"github.com/tracegraph/genealogy-backend/internal/types"
)

type fakeGenerator struct {
	roadmapCalls   atomic.Int64
	expansionCalls atomic.Int64
	roadmapErr     error
	expansionFrag  *types.GraphData
}

func (f *fakeGenerator) GenerateRoadmap(ctx context.Context, concept string) (types.GraphData, error) {
	f.roadmapCalls.Add(1)
	if f.roadmapErr != nil {
		return types.GraphData{}, f.roadmapErr
	}
	return types.GraphData{
		Nodes: []types.Node{
			{ID: "r1", Label: "Cypherpunks", Type: types.NodeTypeRoot, Details: "mailing list era"},
			{ID: "r2", Label: "Hashcash", Type: types.NodeTypeRoot, Details: "proof of work precursor"},
			{ID: "c1", Label: "Proof of Work", Type: types.NodeTypeCore, Details: "consensus mechanism"},
			{ID: "c2", Label: "UTXO Model", Type: types.NodeTypeCore, Details: "ledger structure"},
			{ID: "p1", Label: "Elliptic Curves", Type: types.NodeTypePath, Details: "signature math"},
		},
		Edges: []types.Edge{
			{Source: "r1", Target: "r2", Label: "evolved into"},
			{Source: "r2", Target: "c1", Label: "inspired"},
			{Source: "c1", Target: "c2", Label: "secured by"},
			{Source: "c2", Target: "p1", Label: "requires"},
		},
	}, nil
}

func (f *fakeGenerator) GenerateExpansion(ctx context.Context, concept, parentLabel, parentID string, contextType types.NodeType) (types.GraphData, error) {
	f.expansionCalls.Add(1)
	if f.expansionFrag != nil {
		return *f.expansionFrag, nil
	}
	return types.GraphData{
		Nodes: []types.Node{
			{ID: "x1", Label: "Finite Fields", Type: types.NodeTypeCore, Details: "algebraic structure"},
			{ID: "x2", Label: "Modular Arithmetic", Type: types.NodeTypeCore, Details: "clock arithmetic"},
		},
		Edges: []types.Edge{
			// deliberately wrong anchor id, the merge engine must repair it
			{Source: "some-anchor", Target: "x1", Label: "requires"},
			{Source: "x1", Target: "x2", Label: "builds on"},
		},
	}, nil
}

type memTrendingCache struct {
	entries map[int][]byte
	hits    int
}

func (m *memTrendingCache) Get(ctx context.Context, limit int) ([]byte, bool) {
	raw, ok := m.entries[limit]
	if ok {
		m.hits++
	}
	return raw, ok
}

func (m *memTrendingCache) Set(ctx context.Context, limit int, payload []byte) {
	if m.entries == nil {
		m.entries = map[int][]byte{}
	}
	m.entries[limit] = payload
}

func (m *memTrendingCache) Close() error { return nil }

func newTestService(t *testing.T, gen GeneratorClient) (RoadmapService, repos.RoadmapRepo) {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("unwrapping sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gormDB.AutoMigrate(&types.Roadmap{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("building logger: %v", err)
	}
	repo := repos.NewRoadmapRepo(gormDB, log)
	return NewRoadmapService(log, repo, gen, nil), repo
}

func TestGetOrCreateRoadmapGeneratesOnMiss(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	roadmap, fromCache, err := svc.GetOrCreateRoadmap(ctx, "Bitcoin")
	if err != nil {
		t.Fatalf("GetOrCreateRoadmap returned %v", err)
	}
	if fromCache {
		t.Fatalf("first request reported fromCache=true")
	}
	if roadmap.ConceptSlug != "bitcoin" || roadmap.Views != 1 {
		t.Fatalf("unexpected row: slug=%q views=%d", roadmap.ConceptSlug, roadmap.Views)
	}

	doc, err := roadmap.Graph()
	if err != nil {
		t.Fatalf("decoding graph: %v", err)
	}
	if len(doc.Nodes) != 6 || len(doc.Edges) != 5 {
		t.Fatalf("got %d nodes / %d edges, want 6/5 after seed synthesis", len(doc.Nodes), len(doc.Edges))
	}
}

func TestGetOrCreateRoadmapServesCacheHit(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	if _, _, err := svc.GetOrCreateRoadmap(ctx, "Bitcoin"); err != nil {
		t.Fatalf("first request returned %v", err)
	}

	roadmap, fromCache, err := svc.GetOrCreateRoadmap(ctx, "  Bitcoin!! ")
	if err != nil {
		t.Fatalf("second request returned %v", err)
	}
	if !fromCache {
		t.Fatalf("equivalent concept text was not served from cache")
	}
	if roadmap.Views != 2 {
		t.Fatalf("views = %d, want 2", roadmap.Views)
	}
	if got := gen.roadmapCalls.Load(); got != 1 {
		t.Fatalf("generator invoked %d times, want 1", got)
	}
}

func TestGetOrCreateRoadmapPropagatesGenerationFailure(t *testing.T) {
	gen := &fakeGenerator{roadmapErr: fmt.Errorf("%w: upstream 503", graph.ErrGenerationFailed)}
	svc, _ := newTestService(t, gen)

	if _, _, err := svc.GetOrCreateRoadmap(context.Background(), "Bitcoin"); !errors.Is(err, graph.ErrGenerationFailed) {
		t.Fatalf("got %v, want ErrGenerationFailed", err)
	}
}

func TestGetOrCreateRoadmapConcurrentFirstRequests(t *testing.T) {
	gen := &fakeGenerator{}
	svc, repo := newTestService(t, gen)
	ctx := context.Background()

	const n = 8
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			roadmap, _, err := svc.GetOrCreateRoadmap(gctx, "Bitcoin")
			if err != nil {
				return err
			}
			if roadmap.ConceptSlug != "bitcoin" {
				return fmt.Errorf("unexpected slug %q", roadmap.ConceptSlug)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("a concurrent caller surfaced an error: %v", err)
	}

	// Exactly one document exists regardless of how many generations raced.
	stored, err := repo.Trending(ctx, nil, 50)
	if err != nil {
		t.Fatalf("listing rows: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("got %d stored documents, want 1", len(stored))
	}
}

func TestExpandRoadmap(t *testing.T) {
	gen := &fakeGenerator{}
	svc, repo := newTestService(t, gen)
	ctx := context.Background()

	if _, _, err := svc.GetOrCreateRoadmap(ctx, "Bitcoin"); err != nil {
		t.Fatalf("seeding roadmap: %v", err)
	}

	delta, err := svc.ExpandRoadmap(ctx, "bitcoin", "p1", "Elliptic Curves", types.NodeTypePath)
	if err != nil {
		t.Fatalf("ExpandRoadmap returned %v", err)
	}
	if len(delta.Nodes) != 2 {
		t.Fatalf("got %d delta nodes, want 2", len(delta.Nodes))
	}
	for _, n := range delta.Nodes {
		if n.Type != types.NodeTypePath {
			t.Fatalf("node %q has type %q, want path", n.ID, n.Type)
		}
	}

	// Wrong generator anchor must have been rewritten to the parent.
	anchored := false
	for _, e := range delta.Edges {
		if e.Source == "p1" {
			anchored = true
		}
	}
	if !anchored {
		t.Fatalf("no delta edge anchored to the parent: %+v", delta.Edges)
	}

	// Expansion monotonicity: the stored document grew.
	row, err := repo.GetBySlug(ctx, nil, "bitcoin")
	if err != nil {
		t.Fatalf("GetBySlug returned %v", err)
	}
	doc, err := row.Graph()
	if err != nil {
		t.Fatalf("decoding graph: %v", err)
	}
	if len(doc.Nodes) != 8 || len(doc.Edges) != 7 {
		t.Fatalf("got %d nodes / %d edges, want 8/7 after expansion", len(doc.Nodes), len(doc.Edges))
	}
}

func TestExpandRoadmapUnknownSlugAndParent(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	if _, err := svc.ExpandRoadmap(ctx, "missing", "p1", "", types.NodeTypePath); !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("unknown slug returned %v, want ErrNotFound", err)
	}

	if _, _, err := svc.GetOrCreateRoadmap(ctx, "Bitcoin"); err != nil {
		t.Fatalf("seeding roadmap: %v", err)
	}
	if _, err := svc.ExpandRoadmap(ctx, "bitcoin", "ghost", "", types.NodeTypePath); !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("unknown parent returned %v, want ErrNotFound", err)
	}
	if got := gen.expansionCalls.Load(); got != 0 {
		t.Fatalf("generator invoked %d times for invalid expansions, want 0", got)
	}
}

func TestExpandRoadmapRejectsEmptyFragment(t *testing.T) {
	gen := &fakeGenerator{expansionFrag: &types.GraphData{}}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	if _, _, err := svc.GetOrCreateRoadmap(ctx, "Bitcoin"); err != nil {
		t.Fatalf("seeding roadmap: %v", err)
	}
	if _, err := svc.ExpandRoadmap(ctx, "bitcoin", "p1", "", types.NodeTypePath); !errors.Is(err, graph.ErrNoNewContent) {
		t.Fatalf("empty expansion returned %v, want ErrNoNewContent", err)
	}
}

func TestTrending(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	for _, concept := range []string{"Bitcoin", "Jazz"} {
		if _, _, err := svc.GetOrCreateRoadmap(ctx, concept); err != nil {
			t.Fatalf("seeding %q: %v", concept, err)
		}
	}
	if _, _, err := svc.GetOrCreateRoadmap(ctx, "jazz"); err != nil {
		t.Fatalf("bumping jazz views: %v", err)
	}

	items, err := svc.Trending(ctx, 10)
	if err != nil {
		t.Fatalf("Trending returned %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Slug != "jazz" || items[0].Views != 2 {
		t.Fatalf("unexpected leader: %+v", items[0])
	}
}

func TestTrendingUsesCache(t *testing.T) {
	gen := &fakeGenerator{}
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("unwrapping sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gormDB.AutoMigrate(&types.Roadmap{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("building logger: %v", err)
	}
	cache := &memTrendingCache{}
	repo := repos.NewRoadmapRepo(gormDB, log)
	svc := NewRoadmapService(log, repo, gen, cache)
	ctx := context.Background()

	if _, _, err := svc.GetOrCreateRoadmap(ctx, "Bitcoin"); err != nil {
		t.Fatalf("seeding roadmap: %v", err)
	}

	first, err := svc.Trending(ctx, 10)
	if err != nil {
		t.Fatalf("first Trending returned %v", err)
	}
	second, err := svc.Trending(ctx, 10)
	if err != nil {
		t.Fatalf("second Trending returned %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("cache hits = %d, want 1", cache.hits)
	}
	if len(first) != len(second) {
		t.Fatalf("cached result diverged: %d vs %d items", len(first), len(second))
	}
}
