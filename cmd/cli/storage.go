package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	bucketName   string
	objectName   string
	inspectRunID string
	fullText     bool
)

func init() {
	uploadCmd.Flags().StringVar(&bucketName, "bucket", "", "GCS bucket name (defaults to GCS_BUCKET)")
	uploadCmd.Flags().StringVar(&objectName, "object", "", "object name in the bucket (defaults to the file name)")

	inspectCmd.Flags().StringVar(&inspectRunID, "run-id", "", "enrichment run to inspect (required)")
	inspectCmd.Flags().BoolVar(&fullText, "full", false, "print full model outputs")
	_ = inspectCmd.MarkFlagRequired("run-id")

	rootCmd.AddCommand(uploadCmd, migrateCmd, inspectCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a statement to Cloud Storage",
	Long: `Upload a local statement so it can be referenced as a gs:// document.

Examples:
  merchant-insights upload statement.pdf --bucket statements --object 2024/march.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the BigQuery audit tables",
	Long: `Create the dataset and the model_outputs and enrichment_runs tables in
BIGQUERY_PROJECT. Existing tables are left untouched.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List the model outputs recorded for a run",
	Long: `List the raw model outputs recorded for one enrichment run.

Examples:
  merchant-insights inspect --run-id 3f1c2d4e-... --full`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx, a, cleanup, err := loadApp()
	if err != nil {
		return err
	}
	defer cleanup()

	bucket := bucketName
	if bucket == "" {
		bucket = a.Config().Storage.Bucket
	}
	if bucket == "" {
		return errors.New("--bucket or GCS_BUCKET is required")
	}
	object := objectName
	if object == "" {
		object = filepath.Base(args[0])
	}

	uri, err := a.Documents().UploadFile(ctx, bucket, object, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s to %s\n", args[0], uri)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, a, cleanup, err := loadApp()
	if err != nil {
		return err
	}
	defer cleanup()

	audit := a.Audit()
	if audit == nil {
		return errors.New("BIGQUERY_PROJECT is not set")
	}
	if err := audit.EnsureTables(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Audit tables are up to date.")
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx, a, cleanup, err := loadApp()
	if err != nil {
		return err
	}
	defer cleanup()

	audit := a.Audit()
	if audit == nil {
		return errors.New("BIGQUERY_PROJECT is not set")
	}

	rows, err := audit.ListModelOutputs(ctx, inspectRunID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n=== Model outputs for run %s (%d) ===\n", inspectRunID, len(rows))
	for i, row := range rows {
		fmt.Fprintf(out, "\n%d. %s\n", i+1, row.PromptVersion)
		fmt.Fprintf(out, "   Model:   %s\n", row.ModelName)
		fmt.Fprintf(out, "   Created: %s\n", row.CreatedTS.Format("2006-01-02 15:04:05"))
		text := row.RawText
		if !fullText && len(text) > 200 {
			text = text[:200] + "..."
		}
		fmt.Fprintf(out, "   Output:  %s\n", text)
	}
	fmt.Fprintln(out)
	return nil
}
