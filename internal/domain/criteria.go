package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

var ErrInvalidFilter = errors.New("invalid filter value")

const (
	DefaultPage  = 1
	DefaultLimit = 25
)

type AnimeType string

const (
	AnimeTypeAny       AnimeType = ""
	AnimeTypeTV        AnimeType = "tv"
	AnimeTypeMovie     AnimeType = "movie"
	AnimeTypeOVA       AnimeType = "ova"
	AnimeTypeSpecial   AnimeType = "special"
	AnimeTypeONA       AnimeType = "ona"
	AnimeTypeMusic     AnimeType = "music"
	AnimeTypeCM        AnimeType = "cm"
	AnimeTypePV        AnimeType = "pv"
	AnimeTypeTVSpecial AnimeType = "tv_special"
)

type AnimeStatus string

const (
	AnimeStatusAny      AnimeStatus = ""
	AnimeStatusAiring   AnimeStatus = "airing"
	AnimeStatusComplete AnimeStatus = "complete"
	AnimeStatusUpcoming AnimeStatus = "upcoming"
)

type AnimeRating string

const (
	AnimeRatingAny  AnimeRating = ""
	AnimeRatingG    AnimeRating = "g"
	AnimeRatingPG   AnimeRating = "pg"
	AnimeRatingPG13 AnimeRating = "pg13"
	AnimeRatingR17  AnimeRating = "r17"
	AnimeRatingR    AnimeRating = "r"
	AnimeRatingRx   AnimeRating = "rx"
)

type FilterOption struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

var TypeOptions = []FilterOption{
	{Value: string(AnimeTypeTV), Label: "TV"},
	{Value: string(AnimeTypeMovie), Label: "Movie"},
	{Value: string(AnimeTypeOVA), Label: "OVA"},
	{Value: string(AnimeTypeSpecial), Label: "Special"},
	{Value: string(AnimeTypeONA), Label: "ONA"},
	{Value: string(AnimeTypeMusic), Label: "Music"},
	{Value: string(AnimeTypeCM), Label: "CM"},
	{Value: string(AnimeTypePV), Label: "PV"},
	{Value: string(AnimeTypeTVSpecial), Label: "TV Special"},
}

var StatusOptions = []FilterOption{
	{Value: string(AnimeStatusAiring), Label: "Airing"},
	{Value: string(AnimeStatusComplete), Label: "Complete"},
	{Value: string(AnimeStatusUpcoming), Label: "Upcoming"},
}

var RatingOptions = []FilterOption{
	{Value: string(AnimeRatingG), Label: "G - All Ages", Description: "All Ages"},
	{Value: string(AnimeRatingPG), Label: "PG - Children", Description: "Children"},
	{Value: string(AnimeRatingPG13), Label: "PG-13 - Teens 13+", Description: "Teens 13 or older"},
	{Value: string(AnimeRatingR17), Label: "R-17+", Description: "17+ (violence & profanity)"},
	{Value: string(AnimeRatingR), Label: "R+ - Mild Nudity", Description: "Mild Nudity"},
	{Value: string(AnimeRatingRx), Label: "Rx - Hentai", Description: "Hentai"},
}

// Filters is the optional single-selection filter set. Empty fields mean
// "no filter".
type Filters struct {
	Type   AnimeType   `json:"type,omitempty"`
	Status AnimeStatus `json:"status,omitempty"`
	Rating AnimeRating `json:"rating,omitempty"`
}

func (f Filters) IsZero() bool {
	return f == Filters{}
}

func ParseAnimeType(raw string) (AnimeType, error) {
	value, err := matchOption(raw, TypeOptions)
	if err != nil {
		return AnimeTypeAny, fmt.Errorf("type %q: %w", raw, err)
	}
	return AnimeType(value), nil
}

func ParseAnimeStatus(raw string) (AnimeStatus, error) {
	value, err := matchOption(raw, StatusOptions)
	if err != nil {
		return AnimeStatusAny, fmt.Errorf("status %q: %w", raw, err)
	}
	return AnimeStatus(value), nil
}

func ParseAnimeRating(raw string) (AnimeRating, error) {
	value, err := matchOption(raw, RatingOptions)
	if err != nil {
		return AnimeRatingAny, fmt.Errorf("rating %q: %w", raw, err)
	}
	return AnimeRating(value), nil
}

// ParseFilters parses all three raw filter values, returning the first error.
func ParseFilters(rawType, rawStatus, rawRating string) (Filters, error) {
	animeType, err := ParseAnimeType(rawType)
	if err != nil {
		return Filters{}, err
	}
	status, err := ParseAnimeStatus(rawStatus)
	if err != nil {
		return Filters{}, err
	}
	rating, err := ParseAnimeRating(rawRating)
	if err != nil {
		return Filters{}, err
	}
	return Filters{Type: animeType, Status: status, Rating: rating}, nil
}

func matchOption(raw string, options []FilterOption) (string, error) {
	folded := cases.Fold().String(strings.TrimSpace(raw))
	if folded == "" {
		return "", nil
	}
	for _, option := range options {
		if folded == option.Value || folded == cases.Fold().String(option.Label) {
			return option.Value, nil
		}
	}
	return "", ErrInvalidFilter
}

// SearchCriteria identifies a search. Two criteria answer the same question
// iff Equal reports true; that is the only basis for cache hits.
type SearchCriteria struct {
	Query   string  `json:"query"`
	Page    int     `json:"page"`
	Filters Filters `json:"filters"`
}

// NewSearchCriteria trims the query and clamps the page to >= 1.
func NewSearchCriteria(query string, page int, filters Filters) SearchCriteria {
	return SearchCriteria{Query: query, Page: page, Filters: filters}.Normalize()
}

func (c SearchCriteria) Normalize() SearchCriteria {
	c.Query = strings.TrimSpace(c.Query)
	if c.Page < DefaultPage {
		c.Page = DefaultPage
	}
	return c
}

func (c SearchCriteria) Equal(other SearchCriteria) bool {
	return c.Normalize() == other.Normalize()
}

// WithQuery changes the search identity, so the page goes back to 1.
func (c SearchCriteria) WithQuery(query string) SearchCriteria {
	c.Query = query
	c.Page = DefaultPage
	return c.Normalize()
}

func (c SearchCriteria) WithPage(page int) SearchCriteria {
	c.Page = page
	return c.Normalize()
}

func (c SearchCriteria) WithFilters(filters Filters) SearchCriteria {
	c.Filters = filters
	c.Page = DefaultPage
	return c.Normalize()
}

func (c SearchCriteria) WithType(value AnimeType) SearchCriteria {
	filters := c.Filters
	filters.Type = value
	return c.WithFilters(filters)
}

func (c SearchCriteria) WithStatus(value AnimeStatus) SearchCriteria {
	filters := c.Filters
	filters.Status = value
	return c.WithFilters(filters)
}

func (c SearchCriteria) WithRating(value AnimeRating) SearchCriteria {
	filters := c.Filters
	filters.Rating = value
	return c.WithFilters(filters)
}

// Params builds the outbound request for this criteria.
func (c SearchCriteria) Params(limit int) SearchParams {
	n := c.Normalize()
	if limit <= 0 {
		limit = DefaultLimit
	}
	return SearchParams{
		Query:  n.Query,
		Page:   n.Page,
		Limit:  limit,
		Type:   n.Filters.Type,
		Status: n.Filters.Status,
		Rating: n.Filters.Rating,
	}
}

func (c SearchCriteria) String() string {
	n := c.Normalize()
	return strings.Join([]string{
		"q=" + n.Query,
		"p=" + strconv.Itoa(n.Page),
		"t=" + string(n.Filters.Type),
		"s=" + string(n.Filters.Status),
		"r=" + string(n.Filters.Rating),
	}, "|")
}

// SearchParams is the wire-level search request. Empty Query and filter
// values are omitted from the outbound call entirely.
type SearchParams struct {
	Query  string
	Page   int
	Limit  int
	Type   AnimeType
	Status AnimeStatus
	Rating AnimeRating
}

// Key is a stable identity for the request, used by transport caches.
func (p SearchParams) Key() string {
	return strings.Join([]string{
		"q=" + strings.ToLower(strings.TrimSpace(p.Query)),
		"p=" + strconv.Itoa(p.Page),
		"l=" + strconv.Itoa(p.Limit),
		"t=" + string(p.Type),
		"s=" + string(p.Status),
		"r=" + string(p.Rating),
	}, "|")
}
