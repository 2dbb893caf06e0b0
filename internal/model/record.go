package model

import (
	"encoding/json"
	"time"
)

// Source tags where a PredictionRecord came from.
type Source string

const (
	SourceSingle Source = "single"
	SourceBatch  Source = "batch"
)

// PredictionRecord is a durable record of one completed prediction.
type PredictionRecord struct {
	ID                string          `json:"id"`
	CreatedAt         time.Time       `json:"created_at"`
	Source            Source          `json:"source"`
	BatchID           string          `json:"batch_id,omitempty"`
	DrugName          string          `json:"drug_name"`
	SMILES            string          `json:"smiles"`
	ProteinName       string          `json:"protein_name"`
	FASTA             string          `json:"fasta"`
	PredictedPK       float64         `json:"predicted_pk"`
	ConfidenceScore   float64         `json:"confidence_score"`
	DrugLikenessScore *float64        `json:"drug_likeness_score,omitempty"`
	IsFavorite        bool            `json:"is_favorite"`
	Notes             string          `json:"notes"`
	Tags              []string        `json:"tags"`
	Explanation       json.RawMessage `json:"explanation,omitempty"`
}

// DayCount is one calendar-day bucket of HistoryStats.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// SourceCounts counts records by Source.
type SourceCounts struct {
	Single int `json:"single"`
	Batch  int `json:"batch"`
}

// HistoryStats aggregates a collection of PredictionRecords.
type HistoryStats struct {
	TotalPredictions    int          `json:"total_predictions"`
	AveragePK           float64      `json:"average_pk"`
	AverageConfidence   float64      `json:"average_confidence"`
	MostTestedProtein   string       `json:"most_tested_protein"`
	PredictionsByDay    []DayCount   `json:"predictions_by_day"`
	PredictionsBySource SourceCounts `json:"predictions_by_source"`
}

// Annotation is a partial update of a record's user fields. Nil fields are
// left unchanged; a non-nil empty Tags clears the tags.
type Annotation struct {
	IsFavorite *bool     `json:"is_favorite,omitempty"`
	Notes      *string   `json:"notes,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
}

// Empty reports whether a changes nothing.
func (a Annotation) Empty() bool {
	return a.IsFavorite == nil && a.Notes == nil && a.Tags == nil
}

// RecordFilter selects PredictionRecords. Zero fields match everything.
type RecordFilter struct {
	Source        Source    `json:"source,omitempty"`
	BatchID       string    `json:"batch_id,omitempty"`
	FavoritesOnly bool      `json:"favorites_only,omitempty"`
	Tag           string    `json:"tag,omitempty"`
	Protein       string    `json:"protein,omitempty"` // case-insensitive substring
	Since         time.Time `json:"since,omitempty"`
	Until         time.Time `json:"until,omitempty"` // exclusive
	Limit         int       `json:"limit,omitempty"`
	Offset        int       `json:"offset,omitempty"`
}
