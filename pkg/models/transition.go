package models

// StateTransitionResult is the sole output of the state machine. It describes
// what the orchestration layer should persist and which side effects to run;
// it is never stored as-is.
type StateTransitionResult struct {
	NewStatus              WorkStatus     `json:"new_status"`
	NewPhase               Phase          `json:"new_phase"`
	FinalDecision          *Decision      `json:"final_decision,omitempty"`
	ConflictCreated        bool           `json:"conflict_created"`
	ConflictVotes          []ConflictVote `json:"conflict_votes,omitempty"`
	ShouldAdvancePhase     bool           `json:"should_advance_phase"`
	ShouldTriggerIngestion bool           `json:"should_trigger_ingestion"`
	Metadata               map[string]any `json:"metadata,omitempty"`
}
