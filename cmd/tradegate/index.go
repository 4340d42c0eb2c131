package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hmoriya/tradegate/internal/cli"
)

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the prior-art retrieval index",
	}
	cmd.AddCommand(indexRebuildCmd())
	cmd.AddCommand(indexStatusCmd())
	return cmd
}

func indexRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed every corpus document and persist fresh vectors",
		Long: `Discard persisted document vectors and rebuild the retrieval index
from the current corpus. Run this after ingesting corpus updates.`,
		RunE: runIndexRebuild,
	}
}

func runIndexRebuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	engine := newRetrievalEngine(store)

	slog.Info(cli.FormatTitle("Rebuilding retrieval index"))
	if err := engine.EnsureIndex(ctx, true); err != nil {
		return fmt.Errorf("index rebuild failed: %w", err)
	}

	slog.Info(cli.FormatSuccess(fmt.Sprintf("Index rebuilt with %d documents", engine.Size())))
	return nil
}

func indexStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show corpus and vector counts",
		RunE:  runIndexStatus,
	}
}

func runIndexStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	docs, err := store.CountDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}

	engine := newRetrievalEngine(store)
	if err := engine.EnsureIndex(ctx, false); err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}

	content := fmt.Sprintf("Corpus documents: %d\nIndexed vectors:  %d", docs, engine.Size())
	fmt.Println(cli.RenderBox("Retrieval Index", content))
	return nil
}
