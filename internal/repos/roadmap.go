package repos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tracegraph/genealogy-backend/internal/graph"
	"github.com/tracegraph/genealogy-backend/internal/logger"
	"github.com/tracegraph/genealogy-backend/internal/types"
)

// RoadmapRepo is the Graph Store: a durable slug -> document mapping. All
// mutations are atomic per slug; Create relies on the concept_slug unique
// index so that concurrent first-time requests resolve to exactly one winner.
type RoadmapRepo interface {
	GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Roadmap, error)
	Create(ctx context.Context, tx *gorm.DB, roadmap *types.Roadmap) (*types.Roadmap, error)
	IncrementViews(ctx context.Context, tx *gorm.DB, slug string) (*types.Roadmap, error)
	AppendFragment(ctx context.Context, tx *gorm.DB, slug string, delta types.GraphData) (*types.Roadmap, error)
	Trending(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Roadmap, error)
}

type roadmapRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRoadmapRepo(db *gorm.DB, baseLog *logger.Logger) RoadmapRepo {
	repoLog := baseLog.With("repo", "RoadmapRepo")
	return &roadmapRepo{db: db, log: repoLog}
}

func (rr *roadmapRepo) GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Roadmap, error) {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	var result types.Roadmap
	if err := transaction.WithContext(ctx).
		Where("concept_slug = ?", slug).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: slug %q", graph.ErrNotFound, slug)
		}
		return nil, err
	}
	return &result, nil
}

func (rr *roadmapRepo) Create(ctx context.Context, tx *gorm.DB, roadmap *types.Roadmap) (*types.Roadmap, error) {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	if roadmap.ID == uuid.Nil {
		roadmap.ID = uuid.New()
	}

	if err := transaction.WithContext(ctx).Create(roadmap).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: slug %q", graph.ErrAlreadyExists, roadmap.ConceptSlug)
		}
		return nil, err
	}
	return roadmap, nil
}

func (rr *roadmapRepo) IncrementViews(ctx context.Context, tx *gorm.DB, slug string) (*types.Roadmap, error) {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.Roadmap{}).
		Where("concept_slug = ?", slug).
		UpdateColumn("views", gorm.Expr("views + ?", 1))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: slug %q", graph.ErrNotFound, slug)
	}

	return rr.GetBySlug(ctx, tx, slug)
}

// AppendFragment appends an already-merged delta to the stored document
// under a per-row transaction. On postgres the row is locked for the whole
// read-modify-write so concurrent appends to the same slug serialize instead
// of losing each other's nodes.
func (rr *roadmapRepo) AppendFragment(ctx context.Context, tx *gorm.DB, slug string, delta types.GraphData) (*types.Roadmap, error) {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	var out *types.Roadmap
	err := transaction.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		q := inner
		if inner.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var row types.Roadmap
		if err := q.Where("concept_slug = ?", slug).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: slug %q", graph.ErrNotFound, slug)
			}
			return err
		}

		doc, err := row.Graph()
		if err != nil {
			return fmt.Errorf("decoding stored graph for %q: %w", slug, err)
		}
		doc.Nodes = append(doc.Nodes, delta.Nodes...)
		doc.Edges = append(doc.Edges, delta.Edges...)
		if err := row.SetGraph(doc); err != nil {
			return err
		}

		if err := inner.Model(&types.Roadmap{}).
			Where("concept_slug = ?", slug).
			Update("graph_data", row.GraphData).Error; err != nil {
			return err
		}

		out = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (rr *roadmapRepo) Trending(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Roadmap, error) {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	if limit <= 0 {
		limit = 10
	}

	var results []*types.Roadmap
	if err := transaction.WithContext(ctx).
		Order("views DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	// Fallback: string match (covers wrapped errors that lose type info,
	// and the sqlite driver used in tests).
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "sqlstate 23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint")
}
