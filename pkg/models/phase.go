package models

// Phase represents a screening stage a study passes through.
// These values must match the database enum screening_phase.
type Phase string

const (
	// PhaseTitleAbstract is the initial screening stage based on title and abstract only.
	PhaseTitleAbstract Phase = "title_abstract"

	// PhaseFullText is the second stage, requiring the full document to be available.
	PhaseFullText Phase = "full_text"

	// PhaseFinal is the last screening stage before a study enters extraction.
	PhaseFinal Phase = "final"
)

// phaseOrder fixes the progression title_abstract -> full_text -> final.
var phaseOrder = []Phase{PhaseTitleAbstract, PhaseFullText, PhaseFinal}

// Next returns the phase that follows p. The second return value is false
// when p is the final phase (or unknown) and no further phase exists.
func (p Phase) Next() (Phase, bool) {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1], true
		}
	}
	return "", false
}

// Valid returns true if p is a recognized screening phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseTitleAbstract, PhaseFullText, PhaseFinal:
		return true
	default:
		return false
	}
}

// WorkStatus represents the screening state of a study within its current phase.
// These values must match the database enum work_status.
type WorkStatus string

const (
	// StatusPending indicates no reviewer has voted on the study in its current phase.
	StatusPending WorkStatus = "pending"

	// StatusScreening indicates at least one vote exists but the reviewer quota is not met.
	StatusScreening WorkStatus = "screening"

	// StatusConflict indicates reviewers disagreed and a human tie-break is required.
	StatusConflict WorkStatus = "conflict"

	// StatusIncluded indicates the study passed screening in its current phase.
	StatusIncluded WorkStatus = "included"

	// StatusExcluded indicates the study was rejected in its current phase.
	StatusExcluded WorkStatus = "excluded"

	// StatusMaybe indicates reviewers agreed the study needs further consideration.
	StatusMaybe WorkStatus = "maybe"
)

// IsTerminal returns true if the status carries a final decision for the phase.
func (s WorkStatus) IsTerminal() bool {
	switch s {
	case StatusIncluded, StatusExcluded, StatusMaybe:
		return true
	default:
		return false
	}
}

// Decision is a reviewer's vote on a study.
// These values must match the database enum screening_decision.
type Decision string

const (
	DecisionInclude Decision = "include"
	DecisionExclude Decision = "exclude"
	DecisionMaybe   Decision = "maybe"
)

// Valid returns true if d is a recognized decision value.
func (d Decision) Valid() bool {
	switch d {
	case DecisionInclude, DecisionExclude, DecisionMaybe:
		return true
	default:
		return false
	}
}

// StatusForDecision maps a decision to the terminal status it implies.
func StatusForDecision(d Decision) WorkStatus {
	switch d {
	case DecisionInclude:
		return StatusIncluded
	case DecisionExclude:
		return StatusExcluded
	default:
		return StatusMaybe
	}
}
