package domain

type ImageSet struct {
	ImageURL      string `json:"image_url"`
	SmallImageURL string `json:"small_image_url"`
	LargeImageURL string `json:"large_image_url"`
}

type AnimeImages struct {
	JPG  ImageSet `json:"jpg"`
	WebP ImageSet `json:"webp"`
}

type Aired struct {
	From   *string `json:"from"`
	To     *string `json:"to"`
	String string  `json:"string"`
}

type Broadcast struct {
	Day      *string `json:"day"`
	Time     *string `json:"time"`
	Timezone *string `json:"timezone"`
	String   *string `json:"string"`
}

// Entity is a MyAnimeList cross reference (studio, genre, producer, ...).
type Entity struct {
	MalID int    `json:"mal_id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// Anime is a single record as returned by the remote database. Nullable
// upstream fields are pointers so that "unknown" survives a round trip.
type Anime struct {
	MalID         int         `json:"mal_id"`
	URL           string      `json:"url"`
	Images        AnimeImages `json:"images"`
	Title         string      `json:"title"`
	TitleEnglish  *string     `json:"title_english"`
	TitleJapanese *string     `json:"title_japanese"`
	Type          *string     `json:"type"`
	Source        *string     `json:"source"`
	Episodes      *int        `json:"episodes"`
	Status        *string     `json:"status"`
	Airing        bool        `json:"airing"`
	Aired         Aired       `json:"aired"`
	Duration      *string     `json:"duration"`
	Rating        *string     `json:"rating"`
	Score         *float64    `json:"score"`
	ScoredBy      *int        `json:"scored_by"`
	Rank          *int        `json:"rank"`
	Popularity    *int        `json:"popularity"`
	Members       *int        `json:"members"`
	Favorites     *int        `json:"favorites"`
	Synopsis      *string     `json:"synopsis"`
	Background    *string     `json:"background"`
	Season        *string     `json:"season"`
	Year          *int        `json:"year"`
	Broadcast     Broadcast   `json:"broadcast"`
	Producers     []Entity    `json:"producers"`
	Licensors     []Entity    `json:"licensors"`
	Studios       []Entity    `json:"studios"`
	Genres        []Entity    `json:"genres"`
	Demographics  []Entity    `json:"demographics"`
}

type PaginationItems struct {
	Count   int `json:"count"`
	Total   int `json:"total"`
	PerPage int `json:"per_page"`
}

// Pagination is passed through verbatim from the remote response.
type Pagination struct {
	LastVisiblePage int             `json:"last_visible_page"`
	HasNextPage     bool            `json:"has_next_page"`
	CurrentPage     int             `json:"current_page"`
	Items           PaginationItems `json:"items"`
}

type SearchResult struct {
	Data       []Anime    `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type AnimeDetails struct {
	Data Anime `json:"data"`
}

// Clone returns a copy whose item slice is not shared with r.
func (r SearchResult) Clone() SearchResult {
	cloned := r
	if r.Data != nil {
		cloned.Data = append([]Anime(nil), r.Data...)
	}
	return cloned
}

// DisplayTitle prefers the English title when the upstream has one.
func (a Anime) DisplayTitle() string {
	if a.TitleEnglish != nil && *a.TitleEnglish != "" {
		return *a.TitleEnglish
	}
	return a.Title
}
