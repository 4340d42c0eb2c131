package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hmoriya/tradegate/internal/cli"
	"github.com/hmoriya/tradegate/internal/pipeline"
	"github.com/hmoriya/tradegate/internal/screening"
)

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Process external screening requests",
	}
	cmd.AddCommand(requestSubmitCmd())
	cmd.AddCommand(requestShowCmd())
	return cmd
}

func requestSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <payload.json>",
		Short: "Accept and process one screening request payload",
		Long: `Read an intake payload, run the screening pipeline for it, and
deliver the outcome to the payload's callback webhook. The request,
its inbound payload and the outcome are all recorded for auditing.`,
		Args: cobra.ExactArgs(1),
		RunE: runRequestSubmit,
	}
}

func runRequestSubmit(cmd *cobra.Command, args []string) error {
	handler := cli.NewInterruptHandler(os.Stdout)
	ctx := handler.HandleInterrupts(cmd.Context())

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read payload file: %w", err)
	}

	var in screening.Intake
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	defaults := pipelineDefaults()
	orch := pipeline.NewOrchestrator(store, newRetrievalEngine(store), defaults)
	processor := screening.NewProcessor(store, orch, newNotifier(), defaults)

	req, err := processor.Accept(ctx, &in)
	if err != nil {
		return err
	}
	slog.Info(cli.FormatTitle("Processing screening request"))
	slog.Info("Request", "id", req.ID, "request_id", req.RequestID, "subject_id", req.SubjectID)

	if err := processor.Process(ctx, req.ID); err != nil {
		return fmt.Errorf("request %s failed: %w", req.RequestID, err)
	}

	done, err := store.GetScreeningRequest(ctx, req.ID)
	if err != nil {
		return err
	}
	slog.Info(cli.FormatSuccess(fmt.Sprintf("Request %s %s: %s", done.RequestID, done.Status, done.Reason)))
	return nil
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recorded screening request and its outcome",
		Args:  cobra.ExactArgs(1),
		RunE:  runRequestShow,
	}
}

func runRequestShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid request id %q", args[0])
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	req, err := store.GetScreeningRequest(ctx, id)
	if err != nil {
		return err
	}

	content := fmt.Sprintf("Request:  %s\nSubject:  %d\nStatus:   %s\nReason:   %s",
		req.RequestID, req.SubjectID, req.Status, req.Reason)
	if req.TransactionID != nil {
		content += fmt.Sprintf("\nTransaction: %d", *req.TransactionID)
	}
	fmt.Println(cli.RenderBox("Screening Request", content))

	if req.PayloadOut != "" {
		fmt.Println(req.PayloadOut)
	}
	return nil
}
