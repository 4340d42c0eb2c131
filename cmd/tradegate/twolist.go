package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hmoriya/tradegate/internal/cli"
	"github.com/hmoriya/tradegate/internal/twolist"
)

func twolistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "twolist <transaction-id>",
		Short: "Show the two-list report for a transaction",
		Long: `Aggregate the persisted match rows of a rule-matching run into the
reviewer-facing two lists: rules hit by both the core and the expanded
usage descriptions (intersection) versus rules only the expanded
descriptions reached.`,
		Args: cobra.ExactArgs(1),
		RunE: runTwolist,
	}

	cmd.Flags().Int64("run", 0, "rule-matching run to report on (default: latest)")
	cmd.Flags().String("format", "table", "output format (table, json)")

	_ = viper.BindPFlag("twolist.run", cmd.Flags().Lookup("run"))
	_ = viper.BindPFlag("twolist.format", cmd.Flags().Lookup("format"))

	return cmd
}

func runTwolist(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	transactionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid transaction id %q", args[0])
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	report, err := twolist.Compute(ctx, store, transactionID, viper.GetInt64("twolist.run"))
	if err != nil {
		return err
	}

	if viper.GetString("twolist.format") == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printTwolistReport(report)
	return nil
}

func printTwolistReport(report *twolist.Report) {
	summary := fmt.Sprintf("Match run:    %d\nIntersection: %d\nExpanded only: %d\nUnique items:  %d",
		report.RunID, report.Counts.Intersection, report.Counts.ExpandedOnly, report.Counts.TotalUniqueItems)
	if report.Note != "" {
		summary += "\n\n" + cli.SubtleStyle.Render(report.Note)
	}
	fmt.Println(cli.RenderBox(fmt.Sprintf("Two-List Report · Transaction %d", report.TransactionID), summary))

	if len(report.Intersection) > 0 {
		fmt.Println(cli.HitStyle.Render("Intersection (core and expanded)"))
		fmt.Println(cli.RenderTable(
			[]string{"ITEM", "TITLE", "SCORE", "CORE", "EXPANDED"},
			groupRows(report.Intersection)))
	}
	if len(report.ExpandedOnly) > 0 {
		fmt.Println(cli.WarningStyle.Render("Expanded only"))
		fmt.Println(cli.RenderTable(
			[]string{"ITEM", "TITLE", "SCORE", "CORE", "EXPANDED"},
			groupRows(report.ExpandedOnly)))
	}
}

func groupRows(groups []twolist.Group) [][]string {
	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, []string{
			g.ItemNo,
			g.Title,
			fmt.Sprintf("%.3f", g.MaxScore),
			strconv.Itoa(len(g.CoreHits)),
			strconv.Itoa(len(g.ExpandedHits)),
		})
	}
	return rows
}
