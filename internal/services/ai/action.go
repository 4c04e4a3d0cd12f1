package ai

import (
	"fmt"
	"strings"
)

// Action identifies one of the fixed analysis kinds the gateway can run.
// Each action has exactly one prompt, one output schema and one decoder.
type Action int

const (
	ActionUnknown Action = iota
	ActionSingleAnalysis
	ActionComparisonPair
	ActionMoodMorph
	ActionColorHarmony
	ActionVenueSearch
)

// Actions lists every supported action in a stable order.
var Actions = []Action{
	ActionSingleAnalysis,
	ActionComparisonPair,
	ActionMoodMorph,
	ActionColorHarmony,
	ActionVenueSearch,
}

var actionNames = map[Action]string{
	ActionSingleAnalysis: "singleAnalysis",
	ActionComparisonPair: "comparisonPair",
	ActionMoodMorph:      "moodMorph",
	ActionColorHarmony:   "colorHarmony",
	ActionVenueSearch:    "venueSearch",
}

// Older clients send the names of the serverless proxy they used to call.
var actionAliases = map[string]Action{
	"analyzeimage":               ActionSingleAnalysis,
	"getmorphsuggestions":        ActionMoodMorph,
	"morphsuggestions":           ActionMoodMorph,
	"getcolorharmonysuggestions": ActionColorHarmony,
	"findnearbysalons":           ActionVenueSearch,
}

// ParseAction resolves a wire name (case-insensitive) to an Action.
func ParseAction(name string) (Action, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for a, n := range actionNames {
		if strings.ToLower(n) == key {
			return a, nil
		}
	}
	if a, ok := actionAliases[key]; ok {
		return a, nil
	}
	return ActionUnknown, fmt.Errorf("unknown action %q", name)
}

// String returns the wire name.
func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (a Action) MarshalText() ([]byte, error) {
	if _, ok := actionNames[a]; !ok {
		return nil, fmt.Errorf("cannot marshal action %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ImagesRequired is the number of images the action consumes.
func (a Action) ImagesRequired() int {
	switch a {
	case ActionSingleAnalysis, ActionColorHarmony:
		return 1
	case ActionComparisonPair, ActionMoodMorph:
		return 2
	default:
		return 0
	}
}

// Analyses is how many model analyses one request of this action performs.
// Quota usage is charged per analysis.
func (a Action) Analyses() int {
	if a == ActionComparisonPair {
		return 2
	}
	return 1
}

// Archivable reports whether successful results of this action are kept in history.
func (a Action) Archivable() bool {
	return a == ActionSingleAnalysis
}
