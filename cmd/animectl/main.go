package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "animectl",
	Short: "Search the Jikan anime database from the terminal",
	Long: `animectl queries the Jikan (MyAnimeList) API.

"search" and "get" run a single request. "watch" opens an interactive
session that debounces query edits and reuses the last result when the
criteria come back to it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
