package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/reelfetch/internal/app"
	"github.com/ternarybob/reelfetch/internal/models"
	"gopkg.in/yaml.v3"
)

var batchFile string

var runCmd = &cobra.Command{
	Use:   "run [URL...]",
	Short: "Process a batch of video pages in the foreground",
	Long: `Processes the given page URLs, or the urls listed in a YAML batch file,
with the same queue rules as the server. The command returns once every page
has been handled and all started downloads have finished.

Batch file format:

  action: downloadSelected
  urls:
    - https://example.com/video/abc123
    - https://example.com/video/def456`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVarP(&batchFile, "file", "f", "", "YAML batch file")
}

func runBatch(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(batchFile, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	batch, err := application.Processor.Prepare(req)
	if err != nil {
		_ = application.Close()
		return err
	}

	if err := application.Start(ctx); err != nil {
		_ = application.Close()
		return err
	}

	report := application.Processor.Process(ctx, batch)

	// Close waits for queued downloads
	_ = application.Close()

	printReport(cmd.OutOrStdout(), report)

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d pages failed", report.Failed, len(batch.Items))
	}
	if report.Processed < len(batch.Items) {
		return fmt.Errorf("interrupted after %d of %d pages", report.Processed, len(batch.Items))
	}
	return nil
}

// buildRequest reads the batch file when one is given and appends the
// positional URLs to it
func buildRequest(path string, urls []string) (models.DownloadRequest, error) {
	var req models.DownloadRequest

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return req, fmt.Errorf("failed to read batch file: %w", err)
		}
		if err := yaml.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("failed to parse batch file %s: %w", path, err)
		}
	}

	if req.Action == "" {
		req.Action = models.ActionDownloadSelected
	}
	req.URLs = append(req.URLs, urls...)

	if len(req.URLs) == 0 {
		return req, fmt.Errorf("no page URLs given")
	}
	return req, nil
}

func printReport(w io.Writer, report models.BatchReport) {
	for _, o := range report.Outcomes {
		if o.Succeeded {
			fmt.Fprintf(w, "ok    %s -> %s\n", o.PageURL, o.Destination)
			continue
		}
		fmt.Fprintf(w, "fail  %s [%s] %s\n", o.PageURL, o.Phase, o.Error)
	}
	fmt.Fprintf(w, "\nbatch %s: %d processed, %d succeeded, %d failed in %s\n",
		report.BatchID, report.Processed, report.Succeeded, report.Failed,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
}
