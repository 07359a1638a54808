package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"animesearch/internal/domain"
	"animesearch/internal/search"
)

type stubSearcher struct{}

func (stubSearcher) SearchAnime(ctx context.Context, params domain.SearchParams) (domain.SearchResult, error) {
	<-ctx.Done()
	return domain.SearchResult{}, ctx.Err()
}

func newIdleStore(t *testing.T) *search.Store {
	t.Helper()
	store := search.NewStore(stubSearcher{}, search.WithDebounce(time.Hour))
	t.Cleanup(store.Close)
	return store
}

func TestParseWatchLineEditsQuery(t *testing.T) {
	store := newIdleStore(t)
	action, err := parseWatchLine("  cowboy bebop ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := action(store); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := store.Snapshot().Criteria().Query; got != "cowboy bebop" {
		t.Fatalf("unexpected query %q", got)
	}
}

func TestParseWatchLineCommands(t *testing.T) {
	tests := []struct {
		line  string
		check func(search.State) bool
	}{
		{":type movie", func(s search.State) bool { return s.Filters.Type == domain.AnimeTypeMovie }},
		{":status Airing", func(s search.State) bool { return s.Filters.Status == domain.AnimeStatusAiring }},
		{":rating pg13", func(s search.State) bool { return s.Filters.Rating == domain.AnimeRatingPG13 }},
		{":page 4", func(s search.State) bool { return s.Page == 4 }},
		{":clear", func(s search.State) bool { return s.Filters.IsZero() }},
	}
	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			store := newIdleStore(t)
			store.SetRatingFilter(domain.AnimeRatingR)
			action, err := parseWatchLine(tc.line)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if err := action(store); err != nil {
				t.Fatalf("apply: %v", err)
			}
			if state := store.Snapshot(); !tc.check(state) {
				t.Fatalf("unexpected state after %q: %+v", tc.line, state)
			}
		})
	}
}

func TestParseWatchLineErrors(t *testing.T) {
	if _, err := parseWatchLine(":quit"); !errors.Is(err, errQuit) {
		t.Fatalf("expected errQuit, got %v", err)
	}
	if _, err := parseWatchLine(":page two"); !errors.Is(err, search.ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage, got %v", err)
	}
	if _, err := parseWatchLine(":type series"); !errors.Is(err, domain.ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
	if _, err := parseWatchLine(":frobnicate"); err == nil {
		t.Fatal("expected unknown command error")
	}

	store := newIdleStore(t)
	action, err := parseWatchLine(":prev")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := action(store); !errors.Is(err, search.ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage before page 1, got %v", err)
	}
}

func TestWatchRendererSkipsRepeats(t *testing.T) {
	var buf bytes.Buffer
	r := &watchRenderer{w: &buf}
	result := domain.SearchResult{
		Data:       []domain.Anime{{MalID: 1, Title: "Cowboy Bebop"}},
		Pagination: domain.Pagination{LastVisiblePage: 1, CurrentPage: 1, Items: domain.PaginationItems{Total: 1}},
	}

	r.render(search.State{Query: "bebop", Page: 1, Loading: true})
	r.render(search.State{Query: "bebop", Page: 1, Loading: true})
	r.render(search.State{Query: "bebop", Page: 1, Display: &result})
	r.render(search.State{Query: "bebop", Page: 1, Display: &result, FilterPanelOpen: true})

	out := buf.String()
	if strings.Count(out, "searching") != 1 {
		t.Fatalf("expected a single loading line, got:\n%s", out)
	}
	if strings.Count(out, "Cowboy Bebop") != 1 {
		t.Fatalf("expected results once, got:\n%s", out)
	}

	buf.Reset()
	r.render(search.State{Query: "bebop", Page: 1, Error: "jikan HTTP 500"})
	if !strings.Contains(buf.String(), "jikan HTTP 500") {
		t.Fatalf("expected error line, got %q", buf.String())
	}
}

func TestReadLinesStopsWhenDone(t *testing.T) {
	done := make(chan struct{})
	lines := readLines(strings.NewReader("naruto\nbleach\n:quit\n"), done)

	if first := <-lines; first != "naruto" {
		t.Fatalf("unexpected first line %q", first)
	}
	close(done)

	// The reader may deliver at most the line it was already offering.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("reader goroutine did not stop after done was closed")
		}
	}
}

func TestReadLinesClosesAtEOF(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	var got []string
	for line := range readLines(strings.NewReader("a\nb"), done) {
		got = append(got, line)
	}
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("unexpected lines %v", got)
	}
}
