package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/mattn/go-isatty"
)

// pipelineStages is the run order; runs without the editor stop at write.
var pipelineStages = []Stage{StageResearch, StagePrioritize, StageWrite, StageEdit}

// StatusLine shows which pipeline stages are done. On a terminal it redraws
// a single line in place; elsewhere it appends one line per event so logs
// and CI output stay readable.
type StatusLine struct {
	out     io.Writer
	redraw  bool
	width   int
	steps   int
	elapsed time.Duration
	last    Event
	drawn   bool
}

// NewStatusLine writes to out, redrawing in place when out is a terminal.
func NewStatusLine(out *os.File) *StatusLine {
	fd := out.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	width := 0
	if tty {
		if w, _, err := term.GetSize(fd); err == nil {
			width = w
		}
	}
	return &StatusLine{out: out, redraw: tty, width: width}
}

// NewPlainStatusLine never redraws.
func NewPlainStatusLine(out io.Writer) *StatusLine {
	return &StatusLine{out: out}
}

// Handle satisfies Callback.
func (s *StatusLine) Handle(e Event) {
	if e.StepTotal > 0 {
		s.steps = e.StepTotal
	}
	// Events raised outside the pipeline carry no elapsed time.
	if e.Elapsed > s.elapsed {
		s.elapsed = e.Elapsed
	}
	if e.StepNum == 0 && e.Stage != StageComplete {
		e.StepNum = s.last.StepNum
	}
	if e.Stage == StageComplete && s.last.Stage == StageComplete {
		// Keep the pipeline's summary message when the CLI adds the output file.
		if e.Message == "" {
			e.Message = s.last.Message
		}
		if e.Issues == 0 {
			e.Issues = s.last.Issues
		}
	}
	s.last = e

	if !s.redraw {
		fmt.Fprintf(s.out, "%s %s\n", stamp(s.elapsed), e.Message)
		return
	}
	line := "  " + s.checklist(e) + "  " + stamp(s.elapsed) + "  " + e.Message
	if s.width > 0 && len([]rune(line)) > s.width-1 {
		line = string([]rune(line)[:s.width-1])
	}
	fmt.Fprint(s.out, "\r\033[2K"+line)
	s.drawn = true
}

// Finish erases the status line and prints the outcome of the run.
func (s *StatusLine) Finish() {
	if s.drawn {
		fmt.Fprint(s.out, "\r\033[2K")
		s.drawn = false
	}
	e := s.last
	switch {
	case e.Error != nil:
		fmt.Fprintf(s.out, "\n  %s failed after %s: %v\n", e.Stage, stamp(s.elapsed), e.Error)
	case e.Stage != StageComplete:
	case e.OutputFile != "":
		fmt.Fprintf(s.out, "\n  %s, saved to %s in %s%s\n", e.Message, e.OutputFile, stamp(s.elapsed), issueNote(e.Issues))
	default:
		fmt.Fprintf(s.out, "\n  %s in %s%s\n", e.Message, stamp(s.elapsed), issueNote(e.Issues))
	}
}

// checklist marks stages before the current one done, the current one
// active, and the rest pending.
func (s *StatusLine) checklist(e Event) string {
	n := s.steps
	if n <= 0 || n > len(pipelineStages) {
		n = len(pipelineStages)
	}
	parts := make([]string, 0, n)
	for i, st := range pipelineStages[:n] {
		mark := "·"
		switch {
		case e.Stage == StageComplete || i < e.StepNum-1:
			mark = "✓"
		case i == e.StepNum-1:
			mark = "▸"
			if e.Error != nil {
				mark = "✗"
			}
		}
		parts = append(parts, mark+" "+string(st))
	}
	return strings.Join(parts, "  ")
}

func issueNote(n int) string {
	switch n {
	case 0:
		return ""
	case 1:
		return " (1 validation issue)"
	}
	return fmt.Sprintf(" (%d validation issues)", n)
}

// stamp renders d as M:SS.
func stamp(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
