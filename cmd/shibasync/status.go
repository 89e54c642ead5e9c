package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goodtune/shibasync/internal/admin"
	"github.com/goodtune/shibasync/internal/config"
	"github.com/spf13/cobra"
)

var (
	statusAddr    string
	statusHistory int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running daemon",
	Long:  `Query a running shibasync daemon's admin API and print its sync state and recent runs.`,
	Example: `  shibasync status
  shibasync status --addr http://sync.internal:3001 --history 10`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "Admin API base URL (defaults to the configured admin port on localhost)")
	statusCmd.Flags().IntVar(&statusHistory, "history", 5, "Number of recent runs to show (0 to hide)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusAddr
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		addr = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.AdminPort)
	}
	addr = strings.TrimSuffix(addr, "/")

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	var status admin.StatusResponse
	if err := getJSON(ctx, addr+"/api/sync-status", &status); err != nil {
		return err
	}
	printStatus(status)

	if statusHistory > 0 {
		var history admin.HistoryResponse
		if err := getJSON(ctx, fmt.Sprintf("%s/api/sync/history?limit=%d", addr, statusHistory), &history); err != nil {
			return err
		}
		printHistory(history)
	}
	return nil
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("querying %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("querying %s: unexpected status %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

func printStatus(s admin.StatusResponse) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed)

	_, _ = bold.Print("State:      ")
	if s.IsRunning {
		_, _ = yellow.Println("running")
	} else {
		_, _ = green.Println(string(s.State))
	}

	fmt.Printf("Passes:     %s since start\n", humanize.Comma(int64(s.RunCount)))

	if s.LastRunAt != nil {
		fmt.Printf("Last pass:  %s (%s)\n", humanize.Time(*s.LastRunAt), s.LastRunAt.Local().Format(time.RFC3339))
	} else {
		fmt.Println("Last pass:  never")
	}
	if s.NextRunAt != nil {
		fmt.Printf("Next pass:  %s\n", humanize.Time(*s.NextRunAt))
	}
	if s.LastError != "" {
		_, _ = red.Printf("Last error: %s\n", s.LastError)
	}

	if r := s.LastResult; r != nil {
		fmt.Printf("Last result: %d games (%d users), %d updated, %d skipped, %d errors; %d users and %d posts updated\n",
			r.TotalGames, r.UniqueUsers, r.SuccessfulUpdates, r.Skipped, r.Errors, r.Users.SuccessfulUpdates, r.Posts.Updated)
	}
}

func printHistory(h admin.HistoryResponse) {
	if h.Count == 0 {
		return
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	fmt.Println("\nRecent runs:")
	for _, run := range h.Runs {
		mark, c := "✓", green
		if !run.Success {
			mark, c = "✗", red
		}
		_, _ = c.Printf("  %s %-9s", mark, run.Trigger)
		fmt.Printf(" %-14s took %-8s games %d/%d users %d posts %d",
			humanize.Time(run.StartedAt), run.Duration().Round(time.Millisecond),
			run.SuccessfulUpdates, run.TotalGames, run.UsersUpdated, run.PostsUpdated)
		if run.Error != "" {
			fmt.Printf("  %s", run.Error)
		}
		fmt.Println()
	}
}
