package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"animesearch/internal/domain"
)

var (
	searchPage   int
	searchLimit  int
	searchType   string
	searchStatus string
	searchRating string
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a single anime search",
	Long: `Search anime by title. An empty query lists the whole catalogue, page
by page. Filters accept values or labels case-insensitively, for example
--type tv, --type "TV Special", --rating pg13.`,
	Args: cobra.ArbitraryArgs,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchPage, "page", "p", domain.DefaultPage, "Result page (1-based)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", domain.DefaultLimit, "Results per page (max 25)")
	searchCmd.Flags().StringVarP(&searchType, "type", "t", "", "Type filter (tv, movie, ova, special, ona, music)")
	searchCmd.Flags().StringVarP(&searchStatus, "status", "s", "", "Status filter (airing, complete, upcoming)")
	searchCmd.Flags().StringVarP(&searchRating, "rating", "r", "", "Rating filter (g, pg, pg13, r17, r, rx)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print the raw JSON result")
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchPage < 1 {
		return fmt.Errorf("invalid page %d: must be >= 1", searchPage)
	}
	if searchLimit < 1 || searchLimit > 25 {
		return fmt.Errorf("invalid limit %d: must be between 1 and 25", searchLimit)
	}
	filters, err := domain.ParseFilters(searchType, searchStatus, searchRating)
	if err != nil {
		return err
	}

	client, _, closeFn := newClient()
	defer closeFn()

	criteria := domain.NewSearchCriteria(strings.Join(args, " "), searchPage, filters)
	result, err := client.SearchAnime(cmd.Context(), criteria.Params(searchLimit))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if searchJSON {
		return writeJSON(out, result)
	}
	renderResult(out, result)
	return nil
}

func writeJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func renderResult(w io.Writer, result domain.SearchResult) {
	if len(result.Data) == 0 {
		fmt.Fprintln(w, "No anime found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTYPE\tEPISODES\tSCORE\tYEAR")
	for _, anime := range result.Data {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			anime.MalID,
			anime.DisplayTitle(),
			stringOr(anime.Type, "-"),
			intOr(anime.Episodes, "?"),
			scoreOr(anime.Score),
			intOr(anime.Year, "-"),
		)
	}
	_ = tw.Flush()

	p := result.Pagination
	fmt.Fprintf(w, "Page %d of %d (%d results)\n", p.CurrentPage, p.LastVisiblePage, p.Items.Total)
}

func stringOr(value *string, fallback string) string {
	if value == nil || *value == "" {
		return fallback
	}
	return *value
}

func intOr(value *int, fallback string) string {
	if value == nil {
		return fallback
	}
	return strconv.Itoa(*value)
}

func scoreOr(value *float64) string {
	if value == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*value, 'f', 2, 64)
}
