// Package model defines the records that flow through the coverage pipeline:
// discoveries, extraction snapshots, triage results, and change proposals.
package model

import (
	"strings"
	"time"
)

// DiscoveryStatus is the review state of a discovery.
type DiscoveryStatus string

const (
	DiscoveryPending  DiscoveryStatus = "pending"
	DiscoveryReviewed DiscoveryStatus = "reviewed"
)

// Category groups discovery sources for batched classification.
type Category string

const (
	CategoryVendor Category = "vendor"
	CategoryPaper  Category = "paper"
	CategoryPayer  Category = "payer"
	CategoryOther  Category = "other"
)

// AllCategories lists the batched categories in processing order.
func AllCategories() []Category {
	return []Category{CategoryVendor, CategoryPaper, CategoryPayer, CategoryOther}
}

// sourceCategories maps lowercase source names to their category.
var sourceCategories = map[string]Category{
	"vendor":         CategoryVendor,
	"press_release":  CategoryVendor,
	"newsroom":       CategoryVendor,
	"fda":            CategoryVendor,
	"pubmed":         CategoryPaper,
	"paper":          CategoryPaper,
	"preprint":       CategoryPaper,
	"journal":        CategoryPaper,
	"medrxiv":        CategoryPaper,
	"clinicaltrials": CategoryPaper,
	"payer":          CategoryPayer,
	"cms":            CategoryPayer,
	"lcd":            CategoryPayer,
	"policy":         CategoryPayer,
}

// Discovery is a raw item surfaced by an ingestion collaborator.
type Discovery struct {
	ID           string          `json:"id" validate:"required"`
	Source       string          `json:"source" validate:"required"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Summary      string          `json:"summary,omitempty"`
	URL          string          `json:"url,omitempty" validate:"omitempty,url"`
	Data         map[string]any  `json:"data,omitempty"`
	DiscoveredAt time.Time       `json:"discoveredAt"`
	ReviewedAt   *time.Time      `json:"reviewedAt,omitempty"`
	Status       DiscoveryStatus `json:"status" validate:"required,oneof=pending reviewed"`
}

// Category returns the batch category for the discovery's source.
func (d Discovery) Category() Category {
	if c, ok := sourceCategories[strings.ToLower(strings.TrimSpace(d.Source))]; ok {
		return c
	}
	return CategoryOther
}

// Content returns the document text carried in Data["content"], if any.
func (d Discovery) Content() string {
	if d.Data == nil {
		return ""
	}
	s, _ := d.Data["content"].(string)
	return s
}

// IsPublication reports whether the discovery looks like a paper or
// publication worth targeted extraction.
func (d Discovery) IsPublication() bool {
	if d.Category() == CategoryPaper {
		return true
	}
	t := strings.ToLower(d.Type)
	for _, hint := range []string{"publication", "paper", "abstract", "press_release", "article"} {
		if strings.Contains(t, hint) {
			return true
		}
	}
	return false
}

// Document is the text record handed to the extractor by document and
// registry collaborators.
type Document struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	URL             string         `json:"url,omitempty"`
	Content         string         `json:"content"`
	PublicationDate string         `json:"publicationDate,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// DocumentFromDiscovery builds a Document from the content carried on a discovery.
func DocumentFromDiscovery(d Discovery) Document {
	content := d.Content()
	if content == "" {
		content = strings.TrimSpace(d.Title + "\n\n" + d.Summary)
	}
	return Document{
		ID:      d.ID,
		Title:   d.Title,
		URL:     d.URL,
		Content: content,
	}
}
