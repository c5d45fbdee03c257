package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"labflow/internal/scan"
)

func newScanCommand(app *App) *cobra.Command {
	var section, user string
	cmd := &cobra.Command{
		Use:   "scan <barcode>",
		Short: "Enter a specimen at the sample-entry gate",
		Long: `Start every waiting station record reached by the specimen barcode.

Exit status 3 means no record matches the barcode; 4 means records match but
none is waiting for entry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			started, err := app.Engine.EnterSample(cmd.Context(), args[0], section, user)
			if err != nil {
				app.Printer.ScanResult(args[0], nil, err)
				return &ExitError{Code: ExitCodeFor(err), Err: err}
			}
			app.Printer.ScanResult(args[0], started, nil)
			return nil
		},
	}
	cmd.Flags().StringVarP(&section, "section", "s", "", "only start records at this section")
	cmd.Flags().StringVarP(&user, "user", "u", "", "acting user id")
	return cmd
}

func newScanFeedCommand(app *App) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "scan-feed [file]",
		Short: "Process a JSON-lines scanner feed",
		Long: `Read scanner events, one JSON object per line, from a file or stdin
and enter each scanned specimen.

Example line:
  {"type":"scan","barcode":"BC-1","section":"reception","user":"tech-1"}

Refused scans are reported and do not stop the feed. Exit status 1 means at
least one scan failed for a reason other than a missing or out-of-sequence
specimen.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return app.fail(fmt.Errorf("open scanner feed: %w", err))
				}
				defer f.Close()
				r = f
			}

			feed := scan.NewFeed(app.Engine)
			feed.SetDefaultUser(user)
			feed.SetLogger(app.Logger)

			sum, err := feed.Run(cmd.Context(), r, func(res scan.Result) {
				app.Printer.ScanResult(res.Event.Barcode, res.Started, res.Err)
			})
			app.Printer.ScanSummary(sum.Scans, sum.Started, sum.NotFound, sum.NotWaiting, sum.Failed)
			if err != nil {
				return app.fail(err)
			}
			if sum.Failed > 0 {
				return NewExitError(ExitGeneric)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user recorded for scans that carry none")
	return cmd
}
