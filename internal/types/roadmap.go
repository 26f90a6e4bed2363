package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Roadmap is one generated concept-genealogy graph, one row per distinct
// slug. The document body lives in GraphData as JSONB; Views is a plain
// integer counter bumped on every cache hit.
type Roadmap struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ConceptSlug string         `gorm:"column:concept_slug;not null;uniqueIndex:idx_roadmap_concept_slug" json:"concept_slug"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	GraphData   datatypes.JSON `gorm:"column:graph_data;type:jsonb;not null" json:"graph_data"`
	Views       int64          `gorm:"column:views;not null;default:0" json:"views"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (Roadmap) TableName() string { return "roadmap_gallery" }

func (r *Roadmap) Graph() (GraphData, error) {
	var g GraphData
	if len(r.GraphData) == 0 {
		return g, nil
	}
	if err := json.Unmarshal(r.GraphData, &g); err != nil {
		return GraphData{}, err
	}
	return g, nil
}

func (r *Roadmap) SetGraph(g GraphData) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	r.GraphData = datatypes.JSON(raw)
	return nil
}
