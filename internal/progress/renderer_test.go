package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainStatusLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewPlainStatusLine(&buf)

	s.Handle(Event{Stage: StageResearch, Message: "Researching 2025-05-25", StepNum: 1, StepTotal: 3, Elapsed: 2 * time.Second})
	s.Handle(Event{Stage: StageComplete, Message: "Script ready for 2025-05-25 (10 stories)", StepNum: 3, StepTotal: 3, Elapsed: 65 * time.Second, Issues: 2})
	s.Handle(Event{Stage: StageComplete, Date: "2025-05-25", OutputFile: "out.txt"})
	s.Finish()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "0:02 Researching 2025-05-25", lines[0])
	assert.NotContains(t, buf.String(), "\033[", "plain output has no escape codes")
	assert.Contains(t, buf.String(), "Script ready for 2025-05-25 (10 stories), saved to out.txt in 1:05 (2 validation issues)")
}

func TestPlainStatusLine_Error(t *testing.T) {
	var buf bytes.Buffer
	s := NewPlainStatusLine(&buf)
	s.Handle(Event{Stage: StageWrite, Message: "write failed", Elapsed: 3 * time.Second, Error: errors.New("quota")})
	s.Finish()
	assert.Contains(t, buf.String(), "write failed after 0:03: quota")
}

func TestStatusLine_Redraw(t *testing.T) {
	var buf bytes.Buffer
	s := &StatusLine{out: &buf, redraw: true, width: 200}

	s.Handle(Event{Stage: StagePrioritize, Message: "Ranking stories", StepNum: 2, StepTotal: 4})
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\r\033[2K"))
	assert.Contains(t, out, "✓ research  ▸ prioritize  · write  · edit")
	assert.NotContains(t, out, "\n")

	buf.Reset()
	s.Finish()
	assert.Equal(t, "\r\033[2K", buf.String(), "an unfinished run only clears the line")
}

func TestStatusLine_TruncatesToWidth(t *testing.T) {
	var buf bytes.Buffer
	s := &StatusLine{out: &buf, redraw: true, width: 30}
	s.Handle(Event{Stage: StageResearch, Message: strings.Repeat("x", 100), StepNum: 1, StepTotal: 3})

	line := strings.TrimPrefix(buf.String(), "\r\033[2K")
	assert.Len(t, []rune(line), 29)
}

func TestChecklist(t *testing.T) {
	s := &StatusLine{steps: 3}
	assert.Equal(t, "✓ research  ✓ prioritize  ✗ write", s.checklist(Event{Stage: StageWrite, StepNum: 3, Error: errors.New("x")}))
	assert.Equal(t, "✓ research  ✓ prioritize  ✓ write", s.checklist(Event{Stage: StageComplete}))
}

func TestStamp(t *testing.T) {
	assert.Equal(t, "0:00", stamp(0))
	assert.Equal(t, "2:05", stamp(125*time.Second))
}
