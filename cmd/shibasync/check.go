package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/coder/quartz"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goodtune/shibasync/internal/airtable"
	"github.com/goodtune/shibasync/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	checkUser    string
	checkTimeout time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check connectivity to Airtable and Hackatime",
	Long: `Probe every configured Airtable table with a single page read and, when
--user is given, fetch that user's Hackatime totals for the tracking window.`,
	Example: `  shibasync -c config.yaml check
  shibasync check --user U012ABCDEF`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkUser, "user", "", "Slack id to fetch Hackatime totals for (optional)")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 30*time.Second, "Overall time limit for the checks")
	rootCmd.AddCommand(checkCmd)
}

// checkResult is the outcome of one dependency check.
type checkResult struct {
	name    string
	detail  string
	skipped bool
	err     error
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	results := runChecks(ctx, cfg, logger)
	printCheckResults(results)

	for _, r := range results {
		if r.err != nil {
			return errors.New("one or more checks failed")
		}
	}
	return nil
}

// runChecks checks every dependency concurrently. Results keep a fixed order.
func runChecks(ctx context.Context, cfg *config.Config, logger zerolog.Logger) []checkResult {
	tables := []string{cfg.Airtable.GamesTable, cfg.Airtable.PostsTable, cfg.Airtable.UsersTable}
	results := make([]checkResult, len(tables)+1)

	store := newAirtableClient(cfg, logger)
	source := newHackatimeClient(cfg, quartz.NewReal(), logger)

	var g errgroup.Group
	for i, table := range tables {
		g.Go(func() error {
			results[i] = checkTable(ctx, cfg, store, table)
			return nil
		})
	}

	g.Go(func() error {
		r := checkResult{name: "hackatime"}
		if checkUser == "" {
			r.skipped = true
			r.detail = "pass --user to fetch totals"
		} else {
			totals, err := source.FetchTotals(ctx, checkUser)
			if err != nil {
				r.err = err
			} else {
				r.detail = fmt.Sprintf("%s: %d projects, %s tracked since %s",
					checkUser, len(totals.Projects), time.Duration(totals.TotalSeconds)*time.Second, cfg.Hackatime.StartDate)
			}
		}
		results[len(tables)] = r
		return nil
	})

	_ = g.Wait()
	return results
}

func checkTable(ctx context.Context, cfg *config.Config, store *airtable.Client, table string) checkResult {
	r := checkResult{name: "airtable/" + table}
	if cfg.Airtable.APIKey == "" || cfg.Airtable.BaseID == "" {
		r.err = errors.New("api_key and base_id must be configured")
		return r
	}

	page, err := store.FetchPage(ctx, table, airtable.Query{}, "")
	if err != nil {
		r.err = err
		return r
	}

	more := ""
	if page.Offset != "" {
		more = " (more pages available)"
	}
	r.detail = fmt.Sprintf("%s records in first page%s", humanize.Comma(int64(len(page.Records))), more)
	return r
}

func printCheckResults(results []checkResult) {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	for _, r := range results {
		switch {
		case r.err != nil:
			_, _ = red.Printf("❌ %-20s", r.name)
			fmt.Printf(" %v\n", r.err)
		case r.skipped:
			_, _ = yellow.Printf("⏭️  %-20s", r.name)
			fmt.Printf(" %s\n", r.detail)
		default:
			_, _ = green.Printf("✅ %-20s", r.name)
			fmt.Printf(" %s\n", r.detail)
		}
	}
}
