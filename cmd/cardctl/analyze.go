package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuongbtq/pricecards/internal/client"
	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/internal/poller"
	"github.com/spf13/cobra"
)

type analyzeOptions struct {
	text        string
	file        string
	maxAttempts int
}

func newAnalyzeCmd(global *globalOptions) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Extract a price card from a text message or a file and wait for the result",
		Example: `  cardctl analyze --text "MILHO FOB Rio Verde mar/25 R$ 68,00"
  cardctl analyze --file cotacao.jpg`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (opts.text == "") == (opts.file == "") {
				return errors.New("exactly one of --text or --file is required")
			}
			return runAnalyze(cmd, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.text, "text", "", "message text to analyze")
	cmd.Flags().StringVar(&opts.file, "file", "", "image or text file to upload and analyze")
	cmd.Flags().IntVar(&opts.maxAttempts, "max-attempts", 0, "status queries before giving up (default from config)")
	return cmd
}

func runAnalyze(cmd *cobra.Command, global *globalOptions, opts *analyzeOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}

	api := global.apiClient()

	var submitted *client.SubmitResponse
	if opts.text != "" {
		submitted, err = api.AnalyzeText(ctx, opts.text)
	} else {
		submitted, err = uploadAndAnalyze(cmd, api, opts.file)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(errOut, "job %s submitted\n", submitted.JobID)

	p := poller.New(api, poller.Config{
		MaxAttempts: cfg.Poller.MaxAttempts,
		Interval:    cfg.Poller.Interval,
		Logger:      global.logger(),
	})

	var pollOpts []poller.Option
	if opts.maxAttempts > 0 {
		pollOpts = append(pollOpts, poller.WithMaxAttempts(opts.maxAttempts))
	}

	report, err := p.Poll(ctx, submitted.JobID, progressPrinter(errOut), pollOpts...)
	if err != nil {
		return err
	}

	if report.Status.IsFailure() {
		return fmt.Errorf("%w: %s", errJobFailed, report.Error)
	}
	return printResult(out, report.Result)
}

func uploadAndAnalyze(cmd *cobra.Command, api *client.Client, path string) (*client.SubmitResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	uploaded, err := api.UploadFile(cmd.Context(), path, f)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "uploaded %s (%d bytes)\n", uploaded.Filename, uploaded.Size)

	return api.AnalyzeFile(cmd.Context(), uploaded.FileID)
}

// progressPrinter prints a line whenever the status or progress changes
func progressPrinter(w io.Writer) poller.ProgressFunc {
	var lastStatus domain.JobStatus
	lastProgress := -1

	return func(report *domain.StatusReport) {
		progress := -1
		if report.Progress != nil {
			progress = *report.Progress
		}
		if report.Status == lastStatus && progress == lastProgress {
			return
		}
		lastStatus, lastProgress = report.Status, progress

		if progress >= 0 {
			fmt.Fprintf(w, "%-10s %3d%%\n", report.Status, progress)
		} else {
			fmt.Fprintf(w, "%s\n", report.Status)
		}
	}
}

func printResult(w io.Writer, result json.RawMessage) error {
	if len(result) == 0 {
		fmt.Fprintln(w, "{}")
		return nil
	}

	var card domain.PriceCard
	if err := json.Unmarshal(result, &card); err != nil {
		// not a card; print whatever the server returned
		_, err = fmt.Fprintln(w, string(result))
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(card)
}
