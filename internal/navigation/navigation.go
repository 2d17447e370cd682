// Package navigation models the GUI's page flow as a finite-state machine
// that is independent of how pages are rendered.
package navigation

import "fmt"

// View is a mutually exclusive GUI page.
type View string

const (
	Home           View = "home"
	AnalysisResult View = "analysis_result"
	History        View = "history"
)

// Event is a user interaction or request outcome driving a transition.
type Event string

const (
	Toggle               Event = "toggle"
	OpenHistory          Event = "history"
	Back                 Event = "back"
	PredictSucceeded     Event = "predict_succeeded"
	PredictMissingUpload Event = "predict_missing_upload"
	PredictFailed        Event = "predict_failed"
	UploadChanged        Event = "upload_changed"
	UploadCleared        Event = "upload_cleared"
)

// Target is the organ the GUI will submit uploads for.
type Target string

const (
	Brain Target = "brain"
	Eye   Target = "eye"
)

// Mode is the analysis variant selected next to the toggle.
type Mode string

const (
	Base     Mode = "base"
	Advanced Mode = "advanced"
)

// State is the minimal navigation state persisted between interactions.
type State struct {
	View View `json:"view"`
	// HistorySource is the view to return to when leaving History. Empty
	// when History was not entered through OpenHistory.
	HistorySource View   `json:"history_source,omitempty"`
	Target        Target `json:"target"`
	Mode          Mode   `json:"mode"`
	// Warning is set when the last prediction attempt could not be made.
	Warning bool `json:"warning,omitempty"`
}

// Initial is the state of a fresh session.
func Initial() State {
	return State{View: Home, Target: Brain, Mode: Base}
}

// Transition returns the state following ev. It never mutates s.
func Transition(s State, ev Event) State {
	next := s
	switch ev {
	case Toggle:
		if s.Target == Eye {
			next.Target = Brain
		} else {
			next.Target = Eye
		}
	case OpenHistory:
		if s.View != History {
			next.HistorySource = s.View
			next.View = History
		} else {
			next.View = orHome(s.HistorySource)
		}
	case Back:
		switch s.View {
		case History:
			next.View = orHome(s.HistorySource)
			next.HistorySource = ""
		case AnalysisResult:
			next.View = Home
		}
	case PredictSucceeded:
		next.View = AnalysisResult
		next.Warning = false
	case PredictMissingUpload:
		next.View = Home
		next.Warning = true
	case PredictFailed:
		next.Warning = true
	case UploadChanged, UploadCleared:
		next.View = Home
	}
	return next
}

func orHome(v View) View {
	if v == "" {
		return Home
	}
	return v
}

// ParseAction maps the value of the "action" query parameter to an event.
// Only link-driven events are accepted.
func ParseAction(action string) (Event, error) {
	switch Event(action) {
	case Toggle, OpenHistory, Back:
		return Event(action), nil
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}

// WithMode returns s with the analysis mode set, ignoring unknown values.
func WithMode(s State, mode string) State {
	switch Mode(mode) {
	case Base, Advanced:
		s.Mode = Mode(mode)
	}
	return s
}
