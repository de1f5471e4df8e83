// Package stage renders the four pipeline prompts. Every builder is a pure
// function of its inputs: the target date is always passed in, never read
// from the clock.
package stage

import (
	"fmt"
	"strings"
	"time"

	"github.com/apresai/newsdesk/internal/llm"
	"github.com/apresai/newsdesk/internal/story"
)

// Name identifies a pipeline stage.
type Name string

const (
	Research   Name = "research"
	Prioritize Name = "prioritize"
	Write      Name = "write"
	Edit       Name = "edit"
)

// Token budgets per stage.
const (
	ResearchMaxTokens   = 8192
	PrioritizeMaxTokens = 6144
	WriteMaxTokens      = 8192
	EditMaxTokens       = 8192
)

// Story-count targets.
const (
	ResearchMinStories = 15
	ResearchMaxStories = 20
	EpisodeStories     = 10
)

// DateLayout is the calendar date format used in prompts and APIs.
const DateLayout = "2006-01-02"

// Opening and Closing are the literal first and last lines of every script.
const (
	Opening = "Hello world… welcome back to Apes On Knowledge, your daily dose of distilled AI news from across the planet. I'm your host, A-OK Newsbot… Let's get into today's most important headlines in artificial intelligence."
	Closing = "Until tomorrow, this is A-OK Newsbot… signing off."
)

// Sources is the research allow-list.
var Sources = []string{
	"TechCrunch", "The Verge", "Bloomberg", "The Information", "Wired",
	"OpenAI", "Google AI", "Meta AI", "Anthropic", "GitHub", "Hugging Face",
}

// SourceDomains are the web-search domains behind Sources.
var SourceDomains = []string{
	"techcrunch.com", "theverge.com", "bloomberg.com", "theinformation.com", "wired.com",
	"openai.com", "blog.google", "ai.meta.com", "anthropic.com", "github.blog", "huggingface.co",
}

// ExcludedCompanies never appear in an episode.
var ExcludedCompanies = []string{
	"Tesla", "SpaceX", "Neuralink", "xAI", "X Corp", "The Boring Company",
}

// OutOfWindowNote is the annotation the prioritizer adds to stories dated
// outside the 24-hour window.
const OutOfWindowNote = "outside 24-hour window"

// Request is a rendered stage prompt.
type Request struct {
	Stage          Name
	Prompt         string
	MaxTokens      int
	WebSearch      bool
	AllowedDomains []string
}

// LLM converts r into a single-turn completion request.
func (r Request) LLM() llm.Request {
	return llm.Request{
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: r.Prompt}},
		MaxTokens:      r.MaxTokens,
		WebSearch:      r.WebSearch,
		AllowedDomains: r.AllowedDomains,
	}
}

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// Window returns the lookback and target dates, formatted.
func Window(target time.Time) (lookback, day string) {
	return target.AddDate(0, 0, -1).Format(DateLayout), target.Format(DateLayout)
}

// NewResearch builds the research prompt for target.
func NewResearch(target time.Time) Request {
	yesterday, today := Window(target)

	var b strings.Builder
	fmt.Fprintf(&b, `You are the Research Agent for "Apes On Knowledge" - AI Daily News. Find real AI news from the LAST 24 HOURS ONLY (%s to %s).

MANDATORY REQUIREMENTS:
1. Use web search to find actual recent news
2. Only include stories published on %s or %s
3. Find %d-%d stories
4. Include exact source citations for each story
5. Search these sources: %s
6. EXCLUDE every story about: %s

CRITICAL OUTPUT FORMAT:
Return ONLY a list of stories in this exact format:

STORY: [Exact headline from source]
SOURCE: [Publication name] - [Article title/URL]
DATE: %s or %s
SUMMARY: [2-3 sentences about what happened]
IMPACT: [Why it matters to AI practitioners]
%s
STORY: [Next headline]
...continue for all stories...

SEARCH STRATEGY:
1. "AI news %s"
2. "artificial intelligence breaking news %s"
3. Company searches: "OpenAI news %s", "Google AI %s", etc.
4. Source searches: "site:techcrunch.com AI %s"

DO NOT include any search commentary, explanations, or process notes in your output. Return ONLY the formatted story list.`,
		yesterday, today,
		today, yesterday,
		ResearchMinStories, ResearchMaxStories,
		strings.Join(Sources, ", "),
		strings.Join(ExcludedCompanies, ", "),
		today, yesterday,
		story.Delimiter,
		today, today, today, today, today,
	)

	return Request{
		Stage:          Research,
		Prompt:         b.String(),
		MaxTokens:      ResearchMaxTokens,
		WebSearch:      true,
		AllowedDomains: SourceDomains,
	}
}

// NewPrioritize builds the selection prompt over the research digest.
func NewPrioritize(target time.Time, research story.Digest) Request {
	yesterday, today := Window(target)

	prompt := fmt.Sprintf(`Select EXACTLY %d stories from the research below. Return ONLY the formatted story list.

REQUIREMENTS:
- EXACTLY %d stories (count them)
- Only stories from %s or %s
- Must have verified sources: drop any story without a SOURCE line
- Drop any story naming: %s
- High impact for AI practitioners
- If fewer than %d stories qualify, return the best available and add the line "NOTE: %s" to each story dated outside the window

OUTPUT FORMAT (return this exact format):

STORY 1: [Headline]
SOURCE: [Publication] - [Article title]
DATE: %s or %s
SUMMARY: [What happened - 2-3 sentences]
IMPACT: [Why it matters to AI practitioners]

STORY 2: [Headline]
...continue for all %d stories...

Research to analyze:
%s

Return ONLY the %d formatted stories. No commentary or explanations.`,
		EpisodeStories, EpisodeStories,
		today, yesterday,
		strings.Join(ExcludedCompanies, ", "),
		EpisodeStories, OutOfWindowNote,
		today, yesterday,
		EpisodeStories,
		research.Body(false),
		EpisodeStories,
	)

	return Request{
		Stage:     Prioritize,
		Prompt:    prompt,
		MaxTokens: PrioritizeMaxTokens,
		WebSearch: true,
	}
}

// NewWrite builds the script-writing prompt over the prioritized digest.
func NewWrite(target time.Time, summary story.Digest) Request {
	prompt := fmt.Sprintf(`Write the podcast script for %s using ALL %d stories from the prioritized list below.

MANDATORY FORMAT:

%s

STORY 1: [Story 1 Headline]

[First paragraph: What happened with source citation like "TechCrunch reports in 'Article Title' that..."]

[Second paragraph: Why it matters to AI practitioners]

STORY 2: [Story 2 Headline]
...continue for all %d stories, one section per story, none dropped...

"Across today's stories, we see [identify 2-3 key themes]..."

%s

CITATION EXAMPLES:
- "TechCrunch reports in 'Article Title' that..."
- "According to Bloomberg's article 'Headline'..."
- "The Verge details in 'Story Name' how..."

Stories to write about:
%s

Return ONLY the formatted script. No commentary or process notes.`,
		target.Format("Monday, January 2, 2006"),
		EpisodeStories,
		Opening,
		EpisodeStories,
		Closing,
		summary.Body(true),
	)

	return Request{
		Stage:     Write,
		Prompt:    prompt,
		MaxTokens: WriteMaxTokens,
	}
}

// NewEdit builds the restyling prompt for a written script.
func NewEdit(script string) Request {
	prompt := fmt.Sprintf(`Polish this podcast script while ensuring all requirements are met.

VALIDATION CHECKLIST:
- Starts with exactly: %s
- Contains exactly %d complete stories, each headed "STORY N: [Headline]"
- Each story has proper source citation
- Ends with exactly: %s
- Professional flow and transitions

EDITING INSTRUCTIONS:
1. Improve transitions between stories
2. Ensure consistent citation format
3. Polish language for radio delivery
4. Maintain all story content: do NOT add or remove stories

Script to edit:
%s

Return ONLY the polished script. No editing commentary or process notes.`,
		Opening,
		EpisodeStories,
		Closing,
		script,
	)

	return Request{
		Stage:     Edit,
		Prompt:    prompt,
		MaxTokens: EditMaxTokens,
	}
}
