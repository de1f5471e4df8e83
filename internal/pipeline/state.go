package pipeline

import (
	"fmt"

	"github.com/apresai/newsdesk/internal/story"
)

// State is a position in the run. Runs only move forward.
type State int

const (
	StateResearching State = iota
	StatePrioritizing
	StateWriting
	StateEditing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateResearching:
		return "researching"
	case StatePrioritizing:
		return "prioritizing"
	case StateWriting:
		return "writing"
	case StateEditing:
		return "editing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// next returns the following state. Writing goes straight to Done when the
// editor is off.
func (s State) next(editor bool) State {
	switch s {
	case StateResearching:
		return StatePrioritizing
	case StatePrioritizing:
		return StateWriting
	case StateWriting:
		if editor {
			return StateEditing
		}
		return StateDone
	default:
		return StateDone
	}
}

func stepCount(editor bool) int {
	if editor {
		return 4
	}
	return 3
}

func (s State) describe(date string, research, summary story.Digest) string {
	switch s {
	case StateResearching:
		return fmt.Sprintf("Researching AI news for %s", date)
	case StatePrioritizing:
		return fmt.Sprintf("Prioritizing %d researched stories", len(research.Records))
	case StateWriting:
		return fmt.Sprintf("Writing script from %d stories", len(summary.Records))
	case StateEditing:
		return "Editing script"
	default:
		return s.String()
	}
}
