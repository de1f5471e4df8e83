package quality

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean_RemovesLeakageLines(t *testing.T) {
	in := "Let me search for recent news\n" +
		"  STORY 1: OpenAI ships  \n" +
		"\n" +
		"based on the search results, here is the list\n" +
		"I’ll look for more\n" +
		"I NEED TO SEARCH again\n" +
		"SOURCE: Wired - x\n" +
		"\t\n" +
		"Let me verify that\n" +
		"let me find it\n" +
		"I'll search for Anthropic\n" +
		"IMPACT: big"

	out, removed := CleanCount(in)
	assert.Equal(t, "STORY 1: OpenAI ships\nSOURCE: Wired - x\nIMPACT: big", out)
	assert.Equal(t, 7, removed)
	assert.Equal(t, out, Clean(in))
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"\n\n\n",
		"Let me search\nLet me search",
		" a \n\n b\nLet me find x\n c ",
		"STORY 1: x\r\nreports\r\n",
		"one line",
	}
	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once), "input %q", in)
	}
}

func TestClean_NoBlankLinesAndOrderKept(t *testing.T) {
	in := "c\n\n  a\nLet me search x\n\nb\n"
	out := Clean(in)

	for _, line := range strings.Split(out, "\n") {
		assert.NotEmpty(t, strings.TrimSpace(line))
	}
	assert.Equal(t, "c\na\nb", out)
}

func TestClean_ScenarioC(t *testing.T) {
	raw := "Let me search for recent news\nSTORY 1: A\nTechCrunch reports x"
	cleaned := Clean(raw)

	assert.NotContains(t, cleaned, "Let me search for recent news")
	assert.False(t, Validate(cleaned, 1).HasLeakage)
	assert.True(t, Validate(raw, 1).HasLeakage)
}

func synthetic(stories, citations int) string {
	var b strings.Builder
	for i := 1; i <= stories; i++ {
		fmt.Fprintf(&b, "STORY %d: Headline %d\n", i, i)
	}
	for i := 0; i < citations; i++ {
		b.WriteString("Wired announced something.\n")
	}
	return b.String()
}

func TestValidate_Counting(t *testing.T) {
	for _, n := range []int{0, 9, 10, 11} {
		for _, c := range []int{0, 4, 5, 12} {
			t.Run(fmt.Sprintf("n%d_c%d", n, c), func(t *testing.T) {
				res := Validate(synthetic(n, c), 10)
				assert.Equal(t, n, res.StoryCount)
				assert.Equal(t, c, res.CitationCount)
				assert.False(t, res.HasLeakage)
				assert.Equal(t, n == 10 && c >= 5, res.Valid)
			})
		}
	}
}

func TestValidate_Issues(t *testing.T) {
	text := "Let me search for it\n" + synthetic(9, 2)
	res := Validate(text, 10)

	require.False(t, res.Valid)
	assert.Equal(t, []string{
		"Search process leakage detected",
		"Expected 10 stories, found 9",
		"Insufficient citations: 2",
	}, res.Issues)
}

func TestValidate_LeakageIsCaseSensitive(t *testing.T) {
	assert.False(t, Validate("let me search", 0).HasLeakage)
	assert.True(t, Validate("Based on the search results", 0).HasLeakage)
}

func TestValidate_Pure(t *testing.T) {
	text := synthetic(10, 6) + "According to Bloomberg, reports say"
	a := Validate(text, 10)
	b := Validate(text, 10)
	assert.Equal(t, a, b)
	assert.Equal(t, 8, a.CitationCount)
	assert.NotNil(t, a.Issues)
}

func TestResearchRule(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 16; i++ {
		b.WriteString("STORY: headline\nSOURCE: Wired - reports\n")
	}
	res := ResearchRule().Check(b.String())
	assert.Equal(t, 16, res.StoryCount)
	assert.True(t, res.Valid)

	res = ResearchRule().Check("STORY: one\nSTORY 2: two\nmid-line STORY: ignored")
	assert.Equal(t, 2, res.StoryCount)
	assert.Contains(t, res.Issues, "Expected 15-20 stories, found 2")
}
