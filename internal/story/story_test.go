package story

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const researchBlock = `STORY: OpenAI ships a new reasoning model
SOURCE: TechCrunch - OpenAI launches o5
DATE: 2025-05-25
SUMMARY: OpenAI released a model.
It is faster than the last one.
IMPACT: Cheaper agents.
---
STORY: Hugging Face opens a robotics hub
SOURCE: The Verge - Hugging Face goes physical
DATE: 2025-05-24
SUMMARY: A hub for robot policies.
IMPACT: Shared datasets.`

func TestParse_ResearchRecords(t *testing.T) {
	records := Parse(researchBlock)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, 0, first.Number)
	assert.Equal(t, "OpenAI ships a new reasoning model", first.Headline)
	assert.Equal(t, "TechCrunch - OpenAI launches o5", first.Source)
	assert.Equal(t, "2025-05-25", first.Date)
	assert.Equal(t, "OpenAI released a model. It is faster than the last one.", first.Summary)
	assert.Equal(t, "Cheaper agents.", first.Impact)

	assert.Equal(t, "Hugging Face opens a robotics hub", records[1].Headline)
}

func TestParse_NumberedAndNoise(t *testing.T) {
	text := `Here are the stories.
STORY 1:
Anthropic raises prices
SOURCE: Bloomberg - Anthropic pricing
DATE: 2025-05-25 (outside window)
NOTE: outside 24-hour window
**STORY 2:** Meta open-sources a model
SOURCE: Wired - Llama again`

	records := Parse(text)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Number)
	assert.Equal(t, "Anthropic raises prices", records[0].Headline)
	assert.Equal(t, "outside 24-hour window", records[0].Note)
	assert.Equal(t, 2, records[1].Number)
	assert.Equal(t, "Wired - Llama again", records[1].Source)
}

func TestParse_Empty(t *testing.T) {
	assert.Empty(t, Parse(""))
	assert.Empty(t, Parse("no records here\njust prose"))
}

func TestRender_RoundTrip(t *testing.T) {
	records := Parse(researchBlock)

	numbered := Render(records, true)
	assert.Contains(t, numbered, "STORY 1: OpenAI ships a new reasoning model")
	assert.Contains(t, numbered, "STORY 2: Hugging Face opens a robotics hub")

	again := Parse(numbered)
	require.Len(t, again, 2)
	assert.Equal(t, 1, again[0].Number)
	again[0].Number, again[1].Number = 0, 0
	assert.Equal(t, records, again)

	plain := Render(records, false)
	assert.Contains(t, plain, "STORY: OpenAI ships")
	assert.Contains(t, plain, "\n---\n")
}

func TestRecord_InWindow(t *testing.T) {
	target := time.Date(2025, 5, 25, 15, 0, 0, 0, time.UTC)

	assert.True(t, Record{Date: "2025-05-25"}.InWindow(target))
	assert.True(t, Record{Date: "Published 2025-05-24"}.InWindow(target))
	assert.False(t, Record{Date: "2025-05-23"}.InWindow(target))
	assert.False(t, Record{Date: "yesterday"}.InWindow(target))
}

func TestRecord_Mentions(t *testing.T) {
	r := Record{Headline: "Tesla unveils Optimus update", Source: "Bloomberg - Robots"}
	name, ok := r.Mentions([]string{"SpaceX", "Tesla"})
	assert.True(t, ok)
	assert.Equal(t, "Tesla", name)

	_, ok = Record{Headline: "Teslameter sales up"}.Mentions([]string{"Tesla"})
	assert.False(t, ok)
}

func TestDigest_Body(t *testing.T) {
	d := NewDigest(researchBlock)
	assert.Len(t, d.Records, 2)
	assert.Contains(t, d.Body(true), "STORY 2:")

	raw := NewDigest("nothing structured")
	assert.Equal(t, "nothing structured", raw.Body(true))
}
