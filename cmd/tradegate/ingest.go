package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hmoriya/tradegate/internal/cli"
	"github.com/hmoriya/tradegate/internal/ingest"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load rule catalogs and prior-art corpora",
	}
	cmd.AddCommand(ingestCatalogCmd())
	cmd.AddCommand(ingestCorpusCmd())
	return cmd
}

func ingestCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog <file>",
		Short: "Ingest a control list catalog document",
		Long: `Parse a catalog JSON document and upsert its entries into the rule
catalog. Entries are keyed by (regime, item number, version), so
re-ingesting an updated document replaces earlier rows in place.`,
		Args: cobra.ExactArgs(1),
		RunE: runIngestCatalog,
	}

	cmd.Flags().String("regime", "", "control regime tag for the entries (default from config)")
	_ = viper.BindPFlag("ingest.regime", cmd.Flags().Lookup("regime"))

	return cmd
}

func runIngestCatalog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	regime := viper.GetString("ingest.regime")
	if regime == "" {
		regime = pipelineDefaults().Regime
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer func() { _ = f.Close() }()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	slog.Info(cli.FormatTitle("Ingesting rule catalog"))
	slog.Info("Catalog", "file", args[0], "regime", regime)

	bar := ingestBar("[cyan][bold]Upserting catalog entries...[reset]")
	summary, err := ingest.IngestCatalog(ctx, store, f, regime, func() {
		_ = bar.Add(1)
	})
	if err != nil {
		return fmt.Errorf("catalog ingestion failed: %w", err)
	}
	_ = bar.Finish()

	slog.Info(cli.FormatSuccess(fmt.Sprintf("Catalog ingested: %d entries (%d new, %d updated)",
		summary.Total, summary.Inserted, summary.Updated)))
	return nil
}

func ingestCorpusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "corpus <file>",
		Short: "Ingest a prior-art corpus document",
		Long: `Parse a prior-art corpus JSON document and upsert its records by
publication number. Records without a publication number are skipped.
Run 'tradegate index rebuild' afterwards to refresh the vectors.`,
		Args: cobra.ExactArgs(1),
		RunE: runIngestCorpus,
	}
}

func runIngestCorpus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open corpus file: %w", err)
	}
	defer func() { _ = f.Close() }()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	slog.Info(cli.FormatTitle("Ingesting prior-art corpus"))
	slog.Info("Corpus", "file", args[0])

	bar := ingestBar("[cyan][bold]Upserting documents...[reset]")
	summary, err := ingest.IngestCorpus(ctx, store, f, func() {
		_ = bar.Add(1)
	})
	if err != nil {
		return fmt.Errorf("corpus ingestion failed: %w", err)
	}
	_ = bar.Finish()

	slog.Info(cli.FormatSuccess(fmt.Sprintf("Corpus ingested: %d records (%d new, %d updated, %d skipped)",
		summary.Total, summary.Inserted, summary.Updated, summary.Skipped)))
	if summary.Skipped > 0 {
		slog.Warn(cli.FormatWarning(fmt.Sprintf("%d records had no publication number", summary.Skipped)))
	}
	return nil
}

// ingestBar builds a spinner-style progress bar; ingestion totals are not
// known until the document is parsed.
func ingestBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(os.Stderr)
		}),
	)
}
