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

// corpusDoc accepts both a bare JSON array and an {items:[...]} wrapper.
type corpusDoc struct {
	Items []corpusRecord `json:"items"`
}

// corpusRecord tolerates the key variants seen in upstream exports. The
// variants are resolved here, once, at the ingestion boundary; everything
// downstream sees only model.Document.
type corpusRecord struct {
	PublicationNumber string `json:"publication_number"`
	PubNumber         string `json:"pub_number"`

	Title string `json:"title"`

	Applicant string `json:"applicant"`
	Assignee  string `json:"assignee"`

	UsageDetail     string `json:"usage_detail"`
	UsageDetails    string `json:"usage_details"`
	UsageDetailText string `json:"usage_details_text"`
	Usage           string `json:"usage"`
	Abstract        string `json:"abstract"`
	Description     string `json:"description"`
	Summary         string `json:"summary"`

	IPCCodes    ipcField `json:"ipc_codes"`
	IPC         ipcField `json:"ipc"`
	IPCCodesRaw ipcField `json:"ipc_codes_raw"`
}

// ipcField accepts either a string or a list of codes.
type ipcField string

func (f *ipcField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = ipcField(strings.TrimSpace(s))
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("ipc codes must be a string or list of strings")
	}
	trimmed := make([]string, 0, len(list))
	for _, v := range list {
		if v = strings.TrimSpace(v); v != "" {
			trimmed = append(trimmed, v)
		}
	}
	*f = ipcField(strings.Join(trimmed, ";"))
	return nil
}

func (r *corpusRecord) toDocument() *model.Document {
	return &model.Document{
		PublicationNumber: firstNonEmpty(r.PublicationNumber, r.PubNumber),
		Title:             strings.TrimSpace(r.Title),
		Assignee:          firstNonEmpty(r.Applicant, r.Assignee),
		UsageText: firstNonEmpty(
			r.UsageDetail, r.UsageDetails, r.UsageDetailText,
			r.Usage, r.Abstract, r.Description, r.Summary),
		IPCCodes: firstNonEmpty(string(r.IPCCodes), string(r.IPC), string(r.IPCCodesRaw)),
	}
}

// CorpusSummary reports one corpus ingestion pass.
type CorpusSummary struct {
	Total    int
	Inserted int
	Updated  int
	Skipped  int
}

// IngestCorpus parses a prior-art corpus document and upserts its records by
// publication number. Records without one are counted and skipped. onRow
// fires after each upsert.
func IngestCorpus(ctx context.Context, store service.Storage, r io.Reader, onRow func()) (*CorpusSummary, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus document: %w", err)
	}

	var records []corpusRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		var doc corpusDoc
		if err := json.Unmarshal(raw, &doc); err != nil || doc.Items == nil {
			return nil, fmt.Errorf("corpus document must be a list or {items:[...]} JSON")
		}
		records = doc.Items
	}

	summary := &CorpusSummary{Total: len(records)}
	for i := range records {
		doc := records[i].toDocument()
		if doc.PublicationNumber == "" {
			summary.Skipped++
			continue
		}
		inserted, err := store.UpsertDocument(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert %s: %w", doc.PublicationNumber, err)
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

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
