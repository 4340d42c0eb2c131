// Package ingest loads external rule-catalog and prior-art corpus documents
// into storage. It is a data-producing collaborator: all it hands the engines
// is upserted rows.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/service"
)

// CatalogDoc is the hierarchical control-list document for one regime.
type CatalogDoc struct {
	SchemaVersion string        `json:"schema_version"`
	Source        CatalogSource `json:"source"`
	ExportItems   []ExportItem  `json:"export_items"`
}

// CatalogSource describes where the document came from.
type CatalogSource struct {
	Sheet string `json:"sheet"`
}

// OrderRef is a reference to an order clause, with a normalized display form.
type OrderRef struct {
	ID   string `json:"id"`
	Norm string `json:"norm"`
	Raw  string `json:"raw"`
}

// Display prefers the normalized form over the raw text.
func (r OrderRef) Display() string {
	if r.Norm != "" {
		return r.Norm
	}
	return r.Raw
}

// ExportItem is one control item with its nested cargo rules.
type ExportItem struct {
	ExportOrderRef     OrderRef    `json:"export_order_ref"`
	ExportOrderItem    string      `json:"export_order_item"`
	IntroMetiOrderRef  OrderRef    `json:"intro_meti_order_ref"`
	IntroMetiOrderText string      `json:"intro_meti_order_text"`
	CargoRules         []CargoRule `json:"cargo_rules"`
}

// CargoRule is one leaf rule under an export item.
type CargoRule struct {
	MetiOrderRef      OrderRef    `json:"meti_order_ref"`
	MetiOrderText     string      `json:"meti_order_text"`
	Term              string      `json:"term"`
	TermMeaning       string      `json:"term_meaning"`
	NotesOrExclusions string      `json:"notes_or_exclusions"`
	ECCN              string      `json:"eccn"`
	Substances        []Substance `json:"substances"`
}

// Substance is one listed substance under a cargo rule.
type Substance struct {
	Text string `json:"text"`
	Raw  string `json:"raw"`
}

// FlattenCatalog turns the hierarchical document into flat catalog entries.
// Each cargo rule becomes one entry; an item without cargo rules still yields
// one entry so the item is not silently dropped.
func FlattenCatalog(doc *CatalogDoc, regime string) []model.RuleCatalogEntry {
	var out []model.RuleCatalogEntry

	for _, item := range doc.ExportItems {
		exportNo := item.ExportOrderRef.Display()

		if len(item.CargoRules) == 0 {
			out = append(out, model.RuleCatalogEntry{
				Regime:   regime,
				ListName: doc.Source.Sheet,
				ItemNo:   fmt.Sprintf("%s (%s)", exportNo, item.ExportOrderRef.ID),
				Title:    item.ExportOrderItem,
				RequirementText: joinNonEmpty(
					item.ExportOrderItem,
					item.IntroMetiOrderText,
					item.IntroMetiOrderRef.Display(),
					item.IntroMetiOrderRef.ID,
				),
				Version: doc.SchemaVersion,
				Active:  true,
			})
			continue
		}

		for _, cr := range item.CargoRules {
			var subs []string
			for _, s := range cr.Substances {
				text := strings.TrimSpace(s.Text)
				if text == "" {
					text = strings.TrimSpace(s.Raw)
				}
				if text != "" {
					subs = append(subs, text)
				}
			}

			eccn := ""
			if cr.ECCN != "" {
				eccn = "ECCN:" + cr.ECCN
			}

			out = append(out, model.RuleCatalogEntry{
				Regime:   regime,
				ListName: doc.Source.Sheet,
				ItemNo: fmt.Sprintf("%s (%s) / %s (%s)",
					exportNo, item.ExportOrderRef.ID,
					cr.MetiOrderRef.Display(), cr.MetiOrderRef.ID),
				Title: item.ExportOrderItem,
				RequirementText: joinNonEmpty(
					item.ExportOrderItem,
					item.IntroMetiOrderText,
					cr.MetiOrderText,
					cr.Term,
					cr.TermMeaning,
					cr.NotesOrExclusions,
					eccn,
					strings.Join(subs, "\n"),
					item.IntroMetiOrderRef.Display(),
					cr.MetiOrderRef.Display(),
				),
				Version: doc.SchemaVersion,
				Active:  true,
			})
		}
	}
	return out
}

// CatalogSummary reports one catalog ingestion pass.
type CatalogSummary struct {
	Total    int
	Inserted int
	Updated  int
}

// IngestCatalog parses a catalog document and upserts its flattened entries
// keyed by (regime, item number, version). onRow, if non-nil, fires after each
// upsert so callers can drive a progress display.
func IngestCatalog(ctx context.Context, store service.Storage, r io.Reader, regime string, onRow func()) (*CatalogSummary, error) {
	var doc CatalogDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog document: %w", err)
	}

	entries := FlattenCatalog(&doc, regime)
	summary := &CatalogSummary{Total: len(entries)}
	for i := range entries {
		inserted, err := store.UpsertRuleCatalogEntry(ctx, &entries[i])
		if err != nil {
			return nil, fmt.Errorf("failed to upsert %s: %w", entries[i].ItemNo, err)
		}
		if inserted {
			summary.Inserted++
		} else {
			summary.Updated++
		}
		if onRow != nil {
			onRow()
		}
	}
	return summary, nil
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
