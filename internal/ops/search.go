package ops

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/layout"
	"github.com/hpungsan/chatkeep/internal/transcript"
)

// Scoring weights
const (
	scoreExactPhrase = 10
	scoreWholeWord   = 2
	scorePartialWord = 1
	scoreAllWords    = 5
	scoreNameMatch   = 5

	// snippetRadius is how many runes of context surround each occurrence.
	snippetRadius = 100
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Query    string // required, case-insensitive
	Provider string // optional filter
	Kind     string // optional filter: conversation | project
	Limit    int    // 0 means all results
}

// Match is one occurrence of the query with surrounding context.
type Match struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// SearchResult is one stored record that matched.
type SearchResult struct {
	Type       string    `json:"type"`
	UUID       string    `json:"uuid"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	Email      string    `json:"email"`
	Provider   string    `json:"provider"`
	URL        string    `json:"url"`
	Filepath   string    `json:"filepath"`
	TotalScore float64   `json:"total_score"`
	MatchCount int       `json:"match_count"`
	Matches    []Match   `json:"matches"`
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Query   string         `json:"query"`
	Items   []SearchResult `json:"items"`
	Total   int            `json:"total"`
	Scanned int            `json:"scanned"`
	Sort    string         `json:"sort"`
}

// Search scans every stored record for the query and ranks the hits.
// Results are sorted by total score, highest first; ties are broken by name.
func Search(ctx context.Context, dataDir string, input SearchInput) (*SearchOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("query exceeds maximum length of %d characters", MaxQueryLength))
	}
	if input.Limit < 0 {
		return nil, errors.NewInvalidRequest("limit must not be negative")
	}

	entries, err := Catalog(dataDir, CatalogFilter{Provider: input.Provider, Kind: input.Kind})
	if err != nil {
		return nil, err
	}

	q := newQuery(query)
	results := []SearchResult{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("search")
		}
		res, ok := searchEntry(e, q)
		if ok {
			results = append(results, res)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].TotalScore != results[j].TotalScore {
			return results[i].TotalScore > results[j].TotalScore
		}
		return results[i].Name < results[j].Name
	})

	total := len(results)
	if input.Limit > 0 && len(results) > input.Limit {
		results = results[:input.Limit]
	}

	return &SearchOutput{
		Query:   query,
		Items:   results,
		Total:   total,
		Scanned: len(entries),
		Sort:    "score_desc",
	}, nil
}

func searchEntry(e Entry, q *query) (SearchResult, bool) {
	data, err := layout.ReadFile(e.Path)
	if err != nil {
		log.Warn("could not read stored record", "path", e.Path, "error", err)
		return SearchResult{}, false
	}
	doc, err := transcript.Parse(e.Provider, e.Kind, data)
	if err != nil {
		log.Warn("could not parse stored record", "path", e.Path, "error", err)
		return SearchResult{}, false
	}

	var matches []Match
	for _, text := range doc.Texts() {
		matches = append(matches, q.matchText(text)...)
	}
	if len(matches) == 0 {
		return SearchResult{}, false
	}

	var total float64
	for _, m := range matches {
		total += m.Score
	}
	name := doc.Title
	if name != "" && q.contains(name) {
		total += scoreNameMatch
	}
	if name == "" {
		name = "(untitled)"
	}

	return SearchResult{
		Type:       string(e.Kind),
		UUID:       e.UUID,
		Name:       name,
		CreatedAt:  e.CreatedAt,
		Email:      e.AccountEmail,
		Provider:   e.Provider,
		URL:        e.URL,
		Filepath:   e.Path,
		TotalScore: total,
		MatchCount: len(matches),
		Matches:    matches,
	}, true
}

// query is a search query prepared for case-insensitive rune matching.
type query struct {
	phrase []rune
	words  [][]rune
}

func newQuery(s string) *query {
	q := &query{phrase: lowerRunes(s)}
	for _, w := range strings.Fields(s) {
		q.words = append(q.words, lowerRunes(w))
	}
	return q
}

// lowerRunes lowercases rune by rune so indexes line up with the original text.
func lowerRunes(s string) []rune {
	runes := []rune(s)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}
	return runes
}

func (q *query) contains(text string) bool {
	return indexRunes(lowerRunes(text), q.phrase, 0) >= 0
}

// matchText returns one match per non-overlapping occurrence of the whole
// query in text. Every occurrence carries the score of the text as a whole.
func (q *query) matchText(text string) []Match {
	if text == "" {
		return nil
	}
	lower := lowerRunes(text)
	first := indexRunes(lower, q.phrase, 0)
	if first < 0 {
		return nil
	}

	score := q.score(lower)
	original := []rune(text)
	var matches []Match
	for at := first; at >= 0; at = indexRunes(lower, q.phrase, at+len(q.phrase)) {
		matches = append(matches, Match{Text: snippet(original, at, at+len(q.phrase)), Score: score})
	}
	return matches
}

// score rates a lowercased text against the query.
func (q *query) score(lower []rune) float64 {
	var score float64
	if indexRunes(lower, q.phrase, 0) >= 0 {
		score += scoreExactPhrase
	}
	found := 0
	for _, w := range q.words {
		switch {
		case hasWholeWord(lower, w):
			score += scoreWholeWord
			found++
		case indexRunes(lower, w, 0) >= 0:
			score += scorePartialWord
			found++
		}
	}
	if found == len(q.words) && len(q.words) > 1 {
		score += scoreAllWords
	}
	return score
}

// snippet returns the occurrence [start,end) with up to snippetRadius runes
// of context on each side, newlines flattened and truncation marked.
func snippet(text []rune, start, end int) string {
	from := max(0, start-snippetRadius)
	to := min(len(text), end+snippetRadius)
	s := strings.TrimSpace(strings.ReplaceAll(string(text[from:to]), "\n", " "))
	if from > 0 {
		s = "..." + s
	}
	if to < len(text) {
		s += "..."
	}
	return s
}

// indexRunes returns the index of sub in s at or after from, or -1.
func indexRunes(s, sub []rune, from int) int {
	if len(sub) == 0 {
		return -1
	}
	for i := from; i+len(sub) <= len(s); i++ {
		if equalRunes(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

func equalRunes(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// hasWholeWord reports whether w occurs in s bounded by word boundaries on
// both sides, where a boundary sits between a word rune and a non-word rune.
func hasWholeWord(s, w []rune) bool {
	for at := indexRunes(s, w, 0); at >= 0; at = indexRunes(s, w, at+1) {
		if isBoundary(s, at) && isBoundary(s, at+len(w)) {
			return true
		}
	}
	return false
}

func isBoundary(s []rune, i int) bool {
	before := i > 0 && isWordRune(s[i-1])
	after := i < len(s) && isWordRune(s[i])
	return before != after
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
