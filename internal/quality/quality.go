// Package quality sanitizes stage output and checks it against the
// structural expectations of each stage.
package quality

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/apresai/newsdesk/internal/stage"
)

// leakagePatterns match process narration the model sometimes emits around
// its search tool use. A matching line is removed whole.
var leakagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)let me search`),
	regexp.MustCompile(`(?i)i['’]ll search for`),
	regexp.MustCompile(`(?i)based on the search results`),
	regexp.MustCompile(`(?i)let me verify`),
	regexp.MustCompile(`(?i)i need to search`),
	regexp.MustCompile(`(?i)i['’]ll look for`),
	regexp.MustCompile(`(?i)let me find`),
}

// Clean drops every line that narrates the search process, trims the rest,
// and removes blank lines. Surviving lines keep their order.
func Clean(text string) string {
	cleaned, _ := CleanCount(text)
	return cleaned
}

// CleanCount is Clean that also reports how many non-blank lines were
// removed as leakage.
func CleanCount(text string) (string, int) {
	var (
		kept    []string
		removed int
	)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if isLeakage(line) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), removed
}

func isLeakage(line string) bool {
	for _, re := range leakagePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// leakagePhrases are checked verbatim by the validator.
var leakagePhrases = []string{
	"Let me search",
	"I'll search for",
	"Based on the search results",
}

var (
	numberedMarker = regexp.MustCompile(`STORY \d+:`)
	recordMarker   = regexp.MustCompile(`(?m)^STORY(?: \d+)?:`)
	citationRe     = regexp.MustCompile(`(?i)reports|according to|announced`)
)

// MinCitations is the citation floor below which a text is flagged.
const MinCitations = 5

// Result is the outcome of one validation pass.
type Result struct {
	Valid         bool     `json:"valid"`
	Issues        []string `json:"issues"`
	StoryCount    int      `json:"story_count"`
	CitationCount int      `json:"citation_count"`
	HasLeakage    bool     `json:"has_leakage"`
}

// Rule describes what a stage's output should look like.
type Rule struct {
	// Marker counts stories. Defaults to "STORY <n>:".
	Marker       *regexp.Regexp
	MinStories   int
	MaxStories   int
	MinCitations int
}

// Exact expects exactly n numbered stories.
func Exact(n int) Rule {
	return Rule{Marker: numberedMarker, MinStories: n, MaxStories: n, MinCitations: MinCitations}
}

// ResearchRule expects 15-20 research records, numbered or not.
func ResearchRule() Rule {
	return Rule{
		Marker:       recordMarker,
		MinStories:   stage.ResearchMinStories,
		MaxStories:   stage.ResearchMaxStories,
		MinCitations: MinCitations,
	}
}

// ForStage returns the rule applied to a stage's output.
func ForStage(name stage.Name) Rule {
	if name == stage.Research {
		return ResearchRule()
	}
	return Exact(stage.EpisodeStories)
}

// Validate checks text for exactly expected "STORY <n>:" markers.
func Validate(text string, expected int) Result {
	return Exact(expected).Check(text)
}

// Check inspects text. It never modifies it.
func (r Rule) Check(text string) Result {
	res := Result{Issues: []string{}}

	for _, phrase := range leakagePhrases {
		if strings.Contains(text, phrase) {
			res.HasLeakage = true
			break
		}
	}
	if res.HasLeakage {
		res.Issues = append(res.Issues, "Search process leakage detected")
	}

	marker := r.Marker
	if marker == nil {
		marker = numberedMarker
	}
	res.StoryCount = len(marker.FindAllStringIndex(text, -1))
	if res.StoryCount < r.MinStories || res.StoryCount > r.MaxStories {
		res.Issues = append(res.Issues, fmt.Sprintf("Expected %s stories, found %d", r.expected(), res.StoryCount))
	}

	res.CitationCount = len(citationRe.FindAllStringIndex(text, -1))
	if res.CitationCount < r.MinCitations {
		res.Issues = append(res.Issues, fmt.Sprintf("Insufficient citations: %d", res.CitationCount))
	}

	res.Valid = len(res.Issues) == 0
	return res
}

func (r Rule) expected() string {
	if r.MinStories == r.MaxStories {
		return fmt.Sprint(r.MinStories)
	}
	return fmt.Sprintf("%d-%d", r.MinStories, r.MaxStories)
}
