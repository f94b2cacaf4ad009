package store

import (
	"errors"
	"time"
)

// ErrStorage wraps failures of the underlying persistence layer
// (unavailable database, quota exceeded, corruption).
var ErrStorage = errors.New("storage fault")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DocumentType classifies an agricultural record. The set is closed;
// anything else is rejected at indexing time.
type DocumentType string

const (
	TypeSoilAnalysis         DocumentType = "soil_analysis"
	TypeWaterQuality         DocumentType = "water_quality"
	TypeFieldData            DocumentType = "field_data"
	TypePlantingOptimization DocumentType = "planting_optimization"
)

// Valid reports whether t is one of the known document types.
func (t DocumentType) Valid() bool {
	switch t {
	case TypeSoilAnalysis, TypeWaterQuality, TypeFieldData, TypePlantingOptimization:
		return true
	}
	return false
}

// Metadata describes a document beyond its raw text. UserID scopes the
// record; CountyFIPS and CropType are optional exact-match filter fields.
type Metadata struct {
	Type       DocumentType `json:"type"`
	UserID     string       `json:"userId"`
	CountyFIPS string       `json:"countyFips,omitempty"`
	CropType   string       `json:"cropType,omitempty"`
	Title      string       `json:"title,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Document is a unit of user content to be indexed and searched.
// ID is unique per user and stable across re-indexing.
type Document struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// VectorRecord is a Document plus the embedding computed from its current
// text. Model records which embedding model produced the vector; records
// embedded under different models must never be compared.
type VectorRecord struct {
	Document
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
	IndexedAt time.Time `json:"indexedAt"`
}

// Stats summarizes a user's index.
type Stats struct {
	TotalDocuments int       `json:"totalDocuments"`
	TotalSize      int64     `json:"totalSize"`
	LastUpdated    time.Time `json:"lastUpdated"`
}
