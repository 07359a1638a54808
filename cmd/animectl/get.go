package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"animesearch/internal/domain"
	"animesearch/internal/jikan"
)

var getJSON bool

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show details for one anime by MyAnimeList ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().BoolVar(&getJSON, "json", false, "Print the raw JSON record")
}

func runGet(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid anime id %q", args[0])
	}

	client, _, closeFn := newClient()
	defer closeFn()

	anime, err := client.GetAnimeByID(cmd.Context(), id)
	if errors.Is(err, jikan.ErrNotFound) {
		return fmt.Errorf("anime %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if getJSON {
		return writeJSON(out, domain.AnimeDetails{Data: anime})
	}
	renderDetails(out, anime)
	return nil
}

func renderDetails(w io.Writer, anime domain.Anime) {
	fmt.Fprintf(w, "%s (#%d)\n", anime.DisplayTitle(), anime.MalID)
	if anime.TitleJapanese != nil && *anime.TitleJapanese != "" {
		fmt.Fprintf(w, "  Japanese: %s\n", *anime.TitleJapanese)
	}
	fmt.Fprintf(w, "  Type:     %s\n", stringOr(anime.Type, "-"))
	fmt.Fprintf(w, "  Episodes: %s\n", intOr(anime.Episodes, "?"))
	fmt.Fprintf(w, "  Status:   %s\n", stringOr(anime.Status, "-"))
	fmt.Fprintf(w, "  Rating:   %s\n", stringOr(anime.Rating, "-"))
	fmt.Fprintf(w, "  Score:    %s\n", scoreOr(anime.Score))
	if anime.Aired.String != "" {
		fmt.Fprintf(w, "  Aired:    %s\n", anime.Aired.String)
	}
	if names := entityNames(anime.Studios); names != "" {
		fmt.Fprintf(w, "  Studios:  %s\n", names)
	}
	if names := entityNames(anime.Genres); names != "" {
		fmt.Fprintf(w, "  Genres:   %s\n", names)
	}
	if anime.Synopsis != nil && *anime.Synopsis != "" {
		fmt.Fprintf(w, "\n%s\n", *anime.Synopsis)
	}
}

func entityNames(entities []domain.Entity) string {
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	return strings.Join(names, ", ")
}
