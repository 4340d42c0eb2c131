package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hmoriya/tradegate/internal/cli"
	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/pipeline"
	"github.com/hmoriya/tradegate/internal/twolist"
)

func screenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screen <transaction-id>",
		Short: "Run the screening pipeline for a transaction",
		Long: `Run usage extraction, prior-art retrieval, usage expansion and rule
matching for one transaction. Each stage records a run; completed
stages stay committed even if a later stage fails.`,
		Args: cobra.ExactArgs(1),
		RunE: runScreen,
	}

	cmd.Flags().Float64("threshold", 0, "hit threshold (default from config)")
	cmd.Flags().String("regime", "", "control regime to match against")
	cmd.Flags().Int("top-k", 0, "matches kept per usage requirement")

	_ = viper.BindPFlag("pipeline.threshold", cmd.Flags().Lookup("threshold"))
	_ = viper.BindPFlag("pipeline.regime", cmd.Flags().Lookup("regime"))
	_ = viper.BindPFlag("pipeline.top_k", cmd.Flags().Lookup("top-k"))

	return cmd
}

func runScreen(cmd *cobra.Command, args []string) error {
	handler := cli.NewInterruptHandler(os.Stdout)
	ctx := handler.HandleInterrupts(cmd.Context())

	transactionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid transaction id %q", args[0])
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	txn, err := store.GetTransaction(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("failed to load transaction %d: %w", transactionID, err)
	}

	slog.Info(cli.FormatTitle("Screening transaction"))
	slog.Info("Transaction", "id", txn.ID, "case_no", txn.CaseNo, "title", txn.Title)

	orch := pipeline.NewOrchestrator(store, newRetrievalEngine(store), pipelineDefaults())
	result, err := orch.Run(ctx, transactionID)
	if err != nil {
		return err
	}

	printStageTable(result)

	report, err := twolist.Compute(ctx, store, transactionID, result.MatchRunID)
	if err != nil {
		return fmt.Errorf("failed to summarize matches: %w", err)
	}

	slog.Info(cli.FormatSuccess(fmt.Sprintf(
		"Screening complete: %d intersection, %d expanded-only (match run %d)",
		report.Counts.Intersection, report.Counts.ExpandedOnly, result.MatchRunID)))
	slog.Info("Run 'tradegate twolist " + args[0] + "' for the full report")
	return nil
}

func printStageTable(result *pipeline.Result) {
	order := []model.StageKind{
		model.StageUsageExtract,
		model.StagePriorArtRetrieve,
		model.StageUsageExpand,
		model.StageRuleMatch,
	}

	rows := make([][]string, 0, len(order))
	for _, stage := range order {
		outcome, ok := result.Stages[stage]
		if !ok {
			continue
		}
		note := ""
		if n, ok := outcome.Result["note"].(string); ok {
			note = n
		}
		rows = append(rows, []string{
			string(stage),
			strconv.FormatInt(outcome.RunID, 10),
			note,
		})
	}

	fmt.Println(cli.RenderTable([]string{"STAGE", "RUN", "NOTE"}, rows))
}
