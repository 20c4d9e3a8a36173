package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/merchant-insights/internal/extract"
	"github.com/dvloznov/merchant-insights/internal/pipeline"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	outputPath       string
	transactionsPath string
	amountFlag       string
	exportNotion     bool
	notionDryRun     bool
)

func init() {
	extractCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the transactions file here instead of stdout")

	enrichCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the batch result here instead of stdout")
	enrichCmd.Flags().StringVar(&transactionsPath, "transactions", "", "enrich a stored transactions file instead of a document")
	enrichCmd.Flags().BoolVar(&exportNotion, "notion", false, "export the results to NOTION_DATABASE_ID")
	enrichCmd.Flags().BoolVar(&notionDryRun, "dry-run", false, "with --notion, log the pages that would be written")

	analyzeCmd.Flags().StringVar(&amountFlag, "amount", "", "transaction amount, e.g. 45.00 (required)")
	_ = analyzeCmd.MarkFlagRequired("amount")

	rootCmd.AddCommand(extractCmd, enrichCmd, analyzeCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract <document>",
	Short: "Extract transactions from a statement",
	Long: `Extract the transactions from a statement document and print them as a
transactions file ({"transactions": [...]}).

Examples:
  # Local PDF
  merchant-insights extract statement.pdf -o transactions.json

  # Document in Cloud Storage
  merchant-insights extract gs://statements/2024/march.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

var enrichCmd = &cobra.Command{
	Use:   "enrich [document]",
	Short: "Extract and enrich a statement",
	Long: `Extract the transactions from a statement and enrich the eligible purchases.

Examples:
  # Full pipeline on a local PDF
  merchant-insights enrich statement.pdf

  # Enrich a transactions file produced by "extract"
  merchant-insights enrich --transactions transactions.json

  # Export the results to Notion
  merchant-insights enrich statement.pdf --notion

  # Unlimited batch
  BATCH_LIMIT=0 merchant-insights enrich gs://statements/2024/march.pdf -o result.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEnrich,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <merchant descriptor>",
	Short: "Enrich a single merchant descriptor",
	Long: `Resolve one statement descriptor and suggest competitor products.

Examples:
  merchant-insights analyze "SQ *BLUE BOTTLE" --amount 5.75`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, a, cleanup, err := loadApp()
	if err != nil {
		return err
	}
	defer cleanup()

	txs, err := a.ExtractDocument(ctx, args[0])
	if err != nil {
		return fmt.Errorf("extracting %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	if outputPath != "" {
		if err := writeJSON(nil, outputPath, extract.TransactionsFile{Transactions: txs}); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %d transactions to %s\n", len(txs), outputPath)
		return nil
	}
	return extract.WriteTransactionsFile(out, txs)
}

func runEnrich(cmd *cobra.Command, args []string) error {
	if (len(args) == 1) == (transactionsPath != "") {
		return errors.New("pass either a document or --transactions")
	}
	if exportNotion && transactionsPath != "" {
		return errors.New("--notion needs a document run")
	}

	ctx, a, cleanup, err := loadApp()
	if err != nil {
		return err
	}
	defer cleanup()

	var (
		result *pipeline.BatchResult
		runID  string
		runErr error
	)
	if transactionsPath != "" {
		txs, err := extract.LoadTransactionsFile(transactionsPath)
		if err != nil {
			return err
		}
		result, runErr = a.EnrichTransactions(ctx, txs)
	} else {
		var state *pipeline.PipelineState
		state, runErr = a.EnrichDocument(ctx, args[0])
		if state != nil {
			result = state.Result
			runID = state.RunID
		}
	}

	if result != nil {
		if err := writeJSON(cmd.OutOrStdout(), outputPath, result); err != nil {
			return err
		}
		printSummary(cmd.ErrOrStderr(), result)
	}
	if runErr != nil {
		return runErr
	}

	if exportNotion {
		stats, err := a.ExportToNotion(ctx, runID, result, notionDryRun)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Notion: created %d, updated %d, failed %d\n", stats.Created, stats.Updated, stats.Failed)
	}
	return nil
}

func printSummary(w io.Writer, r *pipeline.BatchResult) {
	fmt.Fprintf(w, "\n=== Enrichment summary ===\n")
	fmt.Fprintf(w, "Requested %d, eligible %d, attempted %d, enriched %d\n", r.Requested, r.Eligible, r.Attempted, r.Enriched)
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  failed #%d %s (%s): %s\n", f.Index, f.MerchantCode, f.Amount.StringFixed(2), f.Error)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	amount, err := decimal.NewFromString(amountFlag)
	if err != nil {
		return fmt.Errorf("invalid --amount %q: %w", amountFlag, err)
	}

	ctx, a, cleanup, err := loadApp()
	if err != nil {
		return err
	}
	defer cleanup()

	info, err := a.AnalyzeMerchant(ctx, args[0], amount)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), "", info)
}
