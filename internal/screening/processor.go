package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/pipeline"
	"github.com/hmoriya/tradegate/internal/service"
	"github.com/hmoriya/tradegate/internal/twolist"
)

// intakeCreatedBy marks requirement rows created from the caller's payload.
const intakeCreatedBy = "intake"

// topMatchLimit bounds how many match rows the outbound payload carries.
const topMatchLimit = 50

// Intake is one already-parsed external evaluation payload. Transport and
// request parsing live with the caller; the processor only consumes this.
type Intake struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	ItemClass   string `json:"itemClass,omitempty"`
	HSCode      string `json:"hsCode,omitempty"`
	ECCN        string `json:"eccn,omitempty"`
	Description string `json:"description,omitempty"`
	CallbackURL string `json:"callbackWebhook"`
	SubjectID   int64  `json:"subjectId"`
}

// Notifier delivers the outcome to the caller.
type Notifier interface {
	Notify(ctx context.Context, url string, note *model.Notification) error
}

// Processor drives a screening request from intake to webhook callback.
type Processor struct {
	store    service.Storage
	orch     *pipeline.Orchestrator
	notifier Notifier
	defaults pipeline.Defaults
}

// NewProcessor builds a processor.
func NewProcessor(store service.Storage, orch *pipeline.Orchestrator, notifier Notifier, defaults pipeline.Defaults) *Processor {
	return &Processor{store: store, orch: orch, notifier: notifier, defaults: defaults}
}

// Accept records a new screening request in state queued and returns it. The
// request carries the raw payload for auditing; processing happens later via
// Process.
func (p *Processor) Accept(ctx context.Context, in *Intake) (*model.ScreeningRequest, error) {
	if in.SubjectID <= 0 {
		return nil, fmt.Errorf("intake payload missing subject id")
	}
	if in.CallbackURL == "" {
		return nil, fmt.Errorf("intake payload missing callback webhook")
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode intake payload: %w", err)
	}

	req := &model.ScreeningRequest{
		RequestID:   "screq_" + uuid.NewString(),
		SubjectID:   in.SubjectID,
		CallbackURL: in.CallbackURL,
		PayloadIn:   string(raw),
		Status:      model.RequestQueued,
	}
	if err := p.store.CreateScreeningRequest(ctx, req); err != nil {
		return nil, err
	}
	slog.Info("screening request accepted", "request_id", req.RequestID, "subject_id", in.SubjectID)
	return req, nil
}

// Process runs one accepted request end to end. The outcome, success or
// error, is recorded on the request row and delivered to the callback; a
// failed delivery is recorded but does not undo persisted pipeline results.
func (p *Processor) Process(ctx context.Context, requestID int64) error {
	req, err := p.store.GetScreeningRequest(ctx, requestID)
	if err != nil {
		return err
	}

	var in Intake
	if err := json.Unmarshal([]byte(req.PayloadIn), &in); err != nil {
		return p.fail(ctx, req, fmt.Errorf("stored payload is not parseable: %w", err))
	}

	req.Status = model.RequestRunning
	if err := p.store.UpdateScreeningRequest(ctx, req); err != nil {
		return err
	}

	transactionID, err := p.buildTransaction(ctx, &in)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	req.TransactionID = &transactionID
	if err := p.store.UpdateScreeningRequest(ctx, req); err != nil {
		return p.fail(ctx, req, err)
	}

	result, err := p.orch.Run(ctx, transactionID)
	if err != nil {
		return p.fail(ctx, req, err)
	}

	payload, matches, err := p.summarize(ctx, transactionID, result.MatchRunID)
	if err != nil {
		return p.fail(ctx, req, err)
	}

	decision := Decide(matches, p.defaults.Threshold)
	if len(decision.Followups) > 0 {
		payload["followupQuestions"] = decision.Followups
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return p.fail(ctx, req, fmt.Errorf("failed to encode outbound payload: %w", err))
	}

	req.Status = model.RequestCompleted
	req.Reason = decision.Reason
	req.PayloadOut = string(out)
	if err := p.store.UpdateScreeningRequest(ctx, req); err != nil {
		return p.fail(ctx, req, err)
	}

	note := &model.Notification{
		SubjectID: req.SubjectID,
		RequestID: req.RequestID,
		Status:    decision.Status,
		Reason:    decision.Reason,
		Payload:   payload,
	}
	if err := p.notifier.Notify(ctx, req.CallbackURL, note); err != nil {
		// Results are already persisted; record the delivery failure only.
		slog.Error("outcome computed but webhook delivery failed",
			"request_id", req.RequestID, "error", err)
		req.Reason = decision.Reason + " (webhook delivery failed: " + err.Error() + ")"
		_ = p.store.UpdateScreeningRequest(ctx, req)
	}
	return nil
}

// buildTransaction materializes the caller's payload as a minimal transaction
// with one item and one core usage requirement.
func (p *Processor) buildTransaction(ctx context.Context, in *Intake) (int64, error) {
	txn := &model.Transaction{
		CaseNo: fmt.Sprintf("EXT-%d-%s", in.SubjectID, time.Now().UTC().Format("20060102150405")),
		Title:  strings.TrimSpace("External Request: " + in.Code + " " + in.Name),
		Status: model.TransactionDraft,
	}
	if err := p.store.CreateTransaction(ctx, txn); err != nil {
		return 0, fmt.Errorf("failed to create transaction: %w", err)
	}

	itemName := in.Name
	if itemName == "" {
		itemName = "Item"
	}
	item := &model.TransactionItem{
		TransactionID: txn.ID,
		ItemName:      itemName,
		ItemModel:     in.Code,
		SpecText:      buildSpecText(in),
	}
	if err := p.store.CreateTransactionItem(ctx, item); err != nil {
		return 0, fmt.Errorf("failed to create item: %w", err)
	}

	usageText := strings.TrimSpace(in.Description)
	if usageText == "" {
		usageText = strings.TrimSpace(in.Name + " / " + in.Code)
	}
	req := &model.UsageRequirement{
		TransactionID: txn.ID,
		Source:        model.SourceCore,
		Text:          usageText,
		CreatedBy:     intakeCreatedBy,
	}
	if err := p.store.CreateUsageRequirement(ctx, req); err != nil {
		return 0, fmt.Errorf("failed to create usage requirement: %w", err)
	}
	return txn.ID, nil
}

// buildSpecText flattens the payload into one spec text block for the
// extract stage.
func buildSpecText(in *Intake) string {
	var parts []string
	parts = append(parts, "code: "+in.Code, "name: "+in.Name)
	if in.ItemClass != "" {
		parts = append(parts, "item_class: "+in.ItemClass)
	}
	if in.HSCode != "" {
		parts = append(parts, "hs_code: "+in.HSCode)
	}
	if in.ECCN != "" {
		parts = append(parts, "eccn: "+in.ECCN)
	}
	if desc := strings.TrimSpace(in.Description); desc != "" {
		parts = append(parts, "description:\n"+desc)
	}
	return strings.Join(parts, "\n\n")
}

// summarize assembles the outbound payload: the transaction, its usage
// requirements, the top match rows and the two-list counts.
func (p *Processor) summarize(ctx context.Context, transactionID, matchRunID int64) (map[string]any, []model.RunMatch, error) {
	txn, err := p.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	usages, err := p.store.GetUsageRequirements(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	matches, err := p.store.GetRunMatches(ctx, matchRunID)
	if err != nil {
		return nil, nil, err
	}
	report, err := twolist.Compute(ctx, p.store, transactionID, matchRunID)
	if err != nil {
		return nil, nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Match.Score > matches[j].Match.Score
	})
	topMatches := matches
	if len(topMatches) > topMatchLimit {
		topMatches = topMatches[:topMatchLimit]
	}

	matchRows := make([]map[string]any, 0, len(topMatches))
	for _, m := range topMatches {
		matchRows = append(matchRows, map[string]any{
			"ruleId":   m.Rule.ID,
			"itemNo":   m.Rule.ItemNo,
			"title":    m.Rule.Title,
			"score":    m.Match.Score,
			"decision": string(m.Match.Decision),
			"source":   string(m.Match.Source),
			"evidence": m.Match.Evidence,
		})
	}

	usageRows := make([]map[string]any, 0, len(usages))
	for _, u := range usages {
		usageRows = append(usageRows, map[string]any{
			"id":         u.ID,
			"source":     string(u.Source),
			"text":       u.Text,
			"confidence": u.Confidence,
		})
	}

	payload := map[string]any{
		"transaction": map[string]any{
			"id":     txn.ID,
			"caseNo": txn.CaseNo,
			"title":  txn.Title,
			"status": string(txn.Status),
		},
		"usages":        usageRows,
		"topMatches":    matchRows,
		"twoListCounts": report.Counts,
		"matchRunId":    matchRunID,
		"generatedAt":   time.Now().UTC().Format(time.RFC3339),
	}
	return payload, matches, nil
}

// fail records the error outcome and sends a best-effort error webhook.
func (p *Processor) fail(ctx context.Context, req *model.ScreeningRequest, cause error) error {
	slog.Error("screening request failed", "request_id", req.RequestID, "error", cause)

	req.Status = model.RequestError
	req.Reason = cause.Error()
	if err := p.store.UpdateScreeningRequest(ctx, req); err != nil {
		slog.Error("failed to record request error", "request_id", req.RequestID, "error", err)
	}

	note := &model.Notification{
		SubjectID: req.SubjectID,
		RequestID: req.RequestID,
		Status:    model.StatusError,
		Reason:    cause.Error(),
		Payload:   map[string]any{},
	}
	if err := p.notifier.Notify(ctx, req.CallbackURL, note); err != nil {
		slog.Error("error webhook delivery failed", "request_id", req.RequestID, "error", err)
	}
	return cause
}
