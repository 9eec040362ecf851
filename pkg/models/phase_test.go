package models

import "testing"

func TestPhaseNext(t *testing.T) {
	tests := []struct {
		phase Phase
		next  Phase
		ok    bool
	}{
		{PhaseTitleAbstract, PhaseFullText, true},
		{PhaseFullText, PhaseFinal, true},
		{PhaseFinal, "", false},
		{Phase("bogus"), "", false},
	}

	for _, tt := range tests {
		next, ok := tt.phase.Next()
		if next != tt.next || ok != tt.ok {
			t.Errorf("%s.Next() = (%s, %v), want (%s, %v)", tt.phase, next, ok, tt.next, tt.ok)
		}
	}
}

func TestWorkStatusIsTerminal(t *testing.T) {
	terminal := []WorkStatus{StatusIncluded, StatusExcluded, StatusMaybe}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	open := []WorkStatus{StatusPending, StatusScreening, StatusConflict}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestStatusForDecision(t *testing.T) {
	if StatusForDecision(DecisionInclude) != StatusIncluded {
		t.Error("include maps to included")
	}
	if StatusForDecision(DecisionExclude) != StatusExcluded {
		t.Error("exclude maps to excluded")
	}
	if StatusForDecision(DecisionMaybe) != StatusMaybe {
		t.Error("maybe maps to maybe")
	}
}

func TestScreeningConfigReviewersNeeded(t *testing.T) {
	if got := (ScreeningConfig{}).ReviewersNeeded(); got != 1 {
		t.Errorf("single screening needs 1 reviewer, got %d", got)
	}
	if got := (ScreeningConfig{RequireDualScreening: true}).ReviewersNeeded(); got != 2 {
		t.Errorf("dual screening needs 2 reviewers, got %d", got)
	}
	if got := (ScreeningConfig{Reviewers: 3}).ReviewersNeeded(); got != 3 {
		t.Errorf("explicit reviewer count wins, got %d", got)
	}
}
