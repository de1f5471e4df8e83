// Package story parses the line-oriented story records exchanged between
// pipeline stages and renders them back to their canonical text form.
//
// A record looks like:
//
//	STORY 3: Headline
//	SOURCE: Publication - Article title
//	DATE: 2025-05-25
//	SUMMARY: What happened.
//	IMPACT: Why it matters.
//	---
package story

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Record is one news item.
type Record struct {
	Number   int    `json:"number,omitempty"`
	Headline string `json:"headline"`
	Source   string `json:"source,omitempty"`
	Date     string `json:"date,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Impact   string `json:"impact,omitempty"`
	// Note carries the prioritizer's annotation, e.g. an out-of-window flag.
	Note string `json:"note,omitempty"`
}

const (
	fieldHeadline = "STORY"
	fieldSource   = "SOURCE"
	fieldDate     = "DATE"
	fieldSummary  = "SUMMARY"
	fieldImpact   = "IMPACT"
	fieldNote     = "NOTE"

	// Delimiter separates records in rendered output.
	Delimiter = "---"

	dateLayout = "2006-01-02"
)

var (
	headerRe = regexp.MustCompile(`(?i)^\W*STORY(?:\s+(\d+))?\s*:\s*(.*)$`)
	fieldRe  = regexp.MustCompile(`(?i)^\W*(SOURCE|DATE|SUMMARY|IMPACT|NOTE)\s*:\s*(.*)$`)
	isoRe    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// Parse extracts every record from text. Lines before the first STORY header
// are ignored; unlabelled lines continue the most recent field.
func Parse(text string) []Record {
	var (
		records []Record
		cur     *Record
		field   string
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || line == Delimiter {
			continue
		}

		if m := headerRe.FindStringSubmatch(line); m != nil {
			records = append(records, Record{Headline: strings.TrimSpace(m[2])})
			cur = &records[len(records)-1]
			if m[1] != "" {
				cur.Number, _ = strconv.Atoi(m[1])
			}
			field = fieldHeadline
			continue
		}
		if cur == nil {
			continue
		}

		if m := fieldRe.FindStringSubmatch(line); m != nil {
			field = strings.ToUpper(m[1])
			cur.set(field, strings.TrimSpace(m[2]))
			continue
		}
		cur.set(field, line)
	}

	return records
}

// set writes value into field, appending with a space when the field
// already has content.
func (r *Record) set(field, value string) {
	var dst *string
	switch field {
	case fieldHeadline:
		dst = &r.Headline
	case fieldSource:
		dst = &r.Source
	case fieldDate:
		dst = &r.Date
	case fieldSummary:
		dst = &r.Summary
	case fieldImpact:
		dst = &r.Impact
	case fieldNote:
		dst = &r.Note
	default:
		return
	}
	if value == "" {
		return
	}
	if *dst == "" {
		*dst = value
	} else {
		*dst += " " + value
	}
}

// Render writes records in canonical form. Numbered output uses
// "STORY N:" headers numbered from 1; otherwise "STORY:".
func Render(records []Record, numbered bool) string {
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteString(Delimiter + "\n")
		}
		if numbered {
			fmt.Fprintf(&b, "STORY %d: %s\n", i+1, r.Headline)
		} else {
			fmt.Fprintf(&b, "STORY: %s\n", r.Headline)
		}
		writeField(&b, fieldSource, r.Source)
		writeField(&b, fieldDate, r.Date)
		writeField(&b, fieldSummary, r.Summary)
		writeField(&b, fieldImpact, r.Impact)
		writeField(&b, fieldNote, r.Note)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeField(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", name, value)
}

// PublishedOn returns the first ISO date in the record's DATE field.
func (r Record) PublishedOn() (time.Time, bool) {
	s := isoRe.FindString(r.Date)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// InWindow reports whether the record was published on target or the day
// before it.
func (r Record) InWindow(target time.Time) bool {
	published, ok := r.PublishedOn()
	if !ok {
		return false
	}
	day := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)
	return published.Equal(day) || published.Equal(day.AddDate(0, 0, -1))
}

// Attributed reports whether the record names a source.
func (r Record) Attributed() bool {
	return strings.TrimSpace(r.Source) != ""
}

// Mentions returns the first of names that appears in the record's headline,
// source, or summary, matched case-insensitively on word boundaries.
func (r Record) Mentions(names []string) (string, bool) {
	hay := " " + strings.ToLower(r.Headline+" "+r.Source+" "+r.Summary) + " "
	for _, name := range names {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(name)) + `\b`)
		if re.MatchString(hay) {
			return name, true
		}
	}
	return "", false
}

// Digest is a stage's filtered text together with the records parsed from it.
type Digest struct {
	Text    string
	Records []Record
}

// NewDigest parses text into a Digest.
func NewDigest(text string) Digest {
	return Digest{Text: text, Records: Parse(text)}
}

// Body is what the next stage's prompt embeds: the canonical rendering of the
// records, or the literal text when nothing parsed.
func (d Digest) Body(numbered bool) string {
	if len(d.Records) == 0 {
		return d.Text
	}
	return Render(d.Records, numbered)
}
