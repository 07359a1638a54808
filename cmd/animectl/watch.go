package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"animesearch/internal/domain"
	"animesearch/internal/search"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive search session driven by stdin",
	Long: `Each plain input line replaces the search query. Edits are debounced,
so typing quickly only searches for the final text. Lines starting with ':'
are commands:

  :page N          jump to page N
  :next, :prev     move one page
  :type X          set the type filter (empty clears it)
  :status X        set the status filter
  :rating X        set the rating filter
  :clear           clear all filters
  :apply           search now, skipping the debounce
  :retry           repeat the last failed search
  :reset           back to defaults, forgetting the cached result
  :quit            leave`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var errQuit = errors.New("quit")

type watchAction func(*search.Store) error

func runWatch(cmd *cobra.Command, _ []string) error {
	client, cfg, closeFn := newClient()
	defer closeFn()

	store := search.NewStore(client,
		search.WithDebounce(cfg.SearchDebounce),
		search.WithPageLimit(cfg.SearchPageLimit),
	)
	defer store.Close()

	updates, cancel := store.Subscribe()
	defer cancel()

	out := cmd.OutOrStdout()
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		r := &watchRenderer{w: out}
		for state := range updates {
			r.render(state)
		}
	}()

	store.Start()

	done := make(chan struct{})
	defer close(done)
	lines := readLines(cmd.InOrStdin(), done)

	ctx := cmd.Context()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			action, err := parseWatchLine(line)
			if errors.Is(err, errQuit) {
				break loop
			}
			if err == nil {
				err = action(store)
			}
			if err != nil {
				fmt.Fprintln(out, "!", err)
			}
		}
	}

	store.Close()
	<-rendered
	return nil
}

// readLines delivers input lines until the reader ends or done is closed.
// A read already blocked in the reader is abandoned, not interrupted.
func readLines(r io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

// parseWatchLine turns one input line into a store action.
func parseWatchLine(line string) (watchAction, error) {
	if !strings.HasPrefix(line, ":") {
		return func(s *search.Store) error {
			s.SetQuery(line)
			return nil
		}, nil
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "q", "quit", "exit":
		return nil, errQuit
	case "page":
		page, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("page %q: %w", arg, search.ErrInvalidPage)
		}
		return func(s *search.Store) error { return s.JumpToPage(page) }, nil
	case "next":
		return func(s *search.Store) error { return s.JumpToPage(s.Snapshot().Page + 1) }, nil
	case "prev":
		return func(s *search.Store) error { return s.JumpToPage(s.Snapshot().Page - 1) }, nil
	case "type":
		value, err := domain.ParseAnimeType(arg)
		if err != nil {
			return nil, err
		}
		return func(s *search.Store) error { s.SetTypeFilter(value); return nil }, nil
	case "status":
		value, err := domain.ParseAnimeStatus(arg)
		if err != nil {
			return nil, err
		}
		return func(s *search.Store) error { s.SetStatusFilter(value); return nil }, nil
	case "rating":
		value, err := domain.ParseAnimeRating(arg)
		if err != nil {
			return nil, err
		}
		return func(s *search.Store) error { s.SetRatingFilter(value); return nil }, nil
	case "clear":
		return func(s *search.Store) error { s.ClearFilters(); return nil }, nil
	case "apply":
		return func(s *search.Store) error { s.ApplyFilters(); return nil }, nil
	case "retry":
		return func(s *search.Store) error { s.Retry(); return nil }, nil
	case "reset":
		return func(s *search.Store) error { s.Reset(); return nil }, nil
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}

// watchRenderer prints a state only when what the user sees changes.
type watchRenderer struct {
	w    io.Writer
	last string
}

func (r *watchRenderer) render(state search.State) {
	criteria := state.Criteria()
	var key string
	switch {
	case state.Loading:
		key = "loading|" + criteria.String()
	case state.Error != "":
		key = "error|" + criteria.String() + "|" + state.Error
	case state.Display != nil:
		key = "display|" + criteria.String()
	default:
		return
	}
	if key == r.last {
		return
	}
	r.last = key

	switch {
	case state.Loading:
		fmt.Fprintf(r.w, "… searching %s\n", describe(criteria))
	case state.Error != "":
		fmt.Fprintf(r.w, "! %s (:retry to try again)\n", state.Error)
	default:
		fmt.Fprintf(r.w, "= %s\n", describe(criteria))
		renderResult(r.w, *state.Display)
	}
}

func describe(c domain.SearchCriteria) string {
	parts := []string{fmt.Sprintf("%q page %d", c.Query, c.Page)}
	if c.Filters.Type != "" {
		parts = append(parts, "type="+string(c.Filters.Type))
	}
	if c.Filters.Status != "" {
		parts = append(parts, "status="+string(c.Filters.Status))
	}
	if c.Filters.Rating != "" {
		parts = append(parts, "rating="+string(c.Filters.Rating))
	}
	return strings.Join(parts, " ")
}
