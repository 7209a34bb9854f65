package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/imgharvest/internal/config"
	"github.com/JakeFAU/imgharvest/internal/harvest"
)

// newFetchCmd creates the 'fetch' subcommand, which harvests images for every
// term given on the command line, in order.
func newFetchCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "fetch TERM [TERM...]",
		Short: "Download images for one or more search terms",
		Long: `Discovers candidate image URLs for each term and downloads them into
{base_dir}/{term}/{id}.jpg. Terms are processed one at a time; downloads within
a term run concurrently.

Exit codes: 0 when every download succeeded, 1 when at least one download
failed, 2 when a term failed discovery or the run was interrupted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := c.resolveApp()
			if err != nil {
				return err
			}
			summary := appInstance.Run(cmd.Context(), args)
			if asJSON {
				err = writeSummaryJSON(cmd.OutOrStdout(), summary)
			} else {
				err = writeSummary(cmd.OutOrStdout(), summary)
			}
			if err != nil {
				return fmt.Errorf("write summary: %w", err)
			}

			code := summary.ExitCode()
			appInstance.GetLogger().Info("fetch command finished",
				zap.Int("terms", len(summary.Terms)),
				zap.Int("succeeded", summary.Total.Succeeded),
				zap.Int("failed", summary.Total.Failed),
				zap.Int("exit_code", code),
			)
			if code != harvest.ExitOK {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("provider", "", "discovery provider (headless, static, feed, fixture)")
	flags.Int("concurrency", 0, "number of concurrent downloads per term")
	flags.Int("limit", 0, "maximum candidates per term (0 = unlimited)")
	flags.String("out", "", "base directory for the local storage backend")
	flags.Bool("dry-run", false, "download everything but keep artifacts in memory only")
	flags.BoolVar(&asJSON, "json", false, "print the run summary as JSON")
	return cmd
}

// applyFlagOverrides copies explicitly set command flags onto cfg and
// re-validates it.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	changed := false
	if flags.Lookup("provider") != nil && flags.Changed("provider") {
		v, err := flags.GetString("provider")
		if err != nil {
			return err
		}
		cfg.Discovery.Provider = v
		changed = true
	}
	if flags.Lookup("concurrency") != nil && flags.Changed("concurrency") {
		v, err := flags.GetInt("concurrency")
		if err != nil {
			return err
		}
		cfg.Worker.Concurrency = v
		changed = true
	}
	if flags.Lookup("limit") != nil && flags.Changed("limit") {
		v, err := flags.GetInt("limit")
		if err != nil {
			return err
		}
		cfg.Discovery.Limit = v
		changed = true
	}
	if flags.Lookup("out") != nil && flags.Changed("out") {
		v, err := flags.GetString("out")
		if err != nil {
			return err
		}
		cfg.Storage.BaseDir = v
		changed = true
	}
	if flags.Lookup("dry-run") != nil && flags.Changed("dry-run") {
		v, err := flags.GetBool("dry-run")
		if err != nil {
			return err
		}
		if v {
			cfg.Storage.Backend = config.BackendMemory
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return cfg.Validate()
}

func writeSummary(w io.Writer, summary harvest.RunSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TERM\tDISCOVERED\tSUCCEEDED\tSKIPPED\tFAILED\tSTATUS")
	for _, ts := range summary.Terms {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			ts.Term, ts.Discovered, ts.Succeeded, ts.Skipped, ts.Failed, termStatus(ts))
	}
	t := summary.Total
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\t\n", t.Discovered, t.Succeeded, t.Skipped, t.Failed)
	return tw.Flush()
}

func termStatus(ts harvest.TermSummary) string {
	switch {
	case ts.Canceled:
		return "canceled"
	case ts.DiscoveryFailed:
		return "discovery-failed"
	case ts.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

func writeSummaryJSON(w io.Writer, summary harvest.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
