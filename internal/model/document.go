package model

import "time"

// Document is one prior-art corpus record consumed by the retrieval engine.
type Document struct {
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PublicationNumber string
	Title             string
	Assignee          string
	UsageText         string
	IPCCodes          string
	ID                int64
}

// EmbedText reduces a document to the single text the embedder consumes.
func (d *Document) EmbedText() string {
	out := d.Title
	if d.UsageText != "" {
		if out != "" {
			out += "\n"
		}
		out += d.UsageText
	}
	if d.Assignee != "" {
		if out != "" {
			out += "\n"
		}
		out += d.Assignee
	}
	return out
}

// DocumentVector is a persisted embedding for one document under one model tag.
type DocumentVector struct {
	ModelTag   string
	Vector     []float32
	DocumentID int64
}

// RetrievalProvenance distinguishes real similarity matches from the sampled
// fallback the engine degrades to when it cannot search.
type RetrievalProvenance string

// Retrieval provenances.
const (
	ProvenanceSimilarity     RetrievalProvenance = "similarity"
	ProvenanceFallbackSample RetrievalProvenance = "fallback_sample"
)

// RetrievalResult links a usage requirement to one nearest-neighbor document
// for a retrieval run. Same replace-on-recompute invariant as MatchResult.
type RetrievalResult struct {
	CreatedAt     time.Time
	Provenance    RetrievalProvenance
	Score         float64
	ID            int64
	RunID         int64
	RequirementID int64
	DocumentID    int64
}

// RetrievalHit is a retrieval row joined with its document.
type RetrievalHit struct {
	Result   RetrievalResult
	Document Document
}
