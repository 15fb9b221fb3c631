package replier

import "fmt"

// Status is the tagged result of one reply attempt.
type Status int

const (
	StatusSkipped Status = iota
	StatusFailed
	StatusSucceeded
)

// Stage names the orchestration step an attempt failed at.
type Stage string

const (
	StageEligibility    Stage = "eligibility"
	StageAgentSelection Stage = "agent-selection"
	StageGeneration     Stage = "generation"
	StagePersistence    Stage = "persistence"
)

// Outcome describes how one reply attempt ended. It exists for logging and
// metrics only; the durable side effects live in the ledger and the health
// counters.
type Outcome struct {
	Status Status
	Stage  Stage
	Reason string
	PostID int64
}

// Skipped marks a topic that was not suitable at attempt time.
func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}

// FailedAt marks an attempt that failed at the given stage.
func FailedAt(stage Stage, reason string) Outcome {
	return Outcome{Status: StatusFailed, Stage: stage, Reason: reason}
}

// Succeeded marks a persisted reply.
func Succeeded(postID int64) Outcome {
	return Outcome{Status: StatusSucceeded, PostID: postID}
}

func (o Outcome) String() string {
	switch o.Status {
	case StatusSucceeded:
		return fmt.Sprintf("succeeded (post #%d)", o.PostID)
	case StatusFailed:
		return fmt.Sprintf("failed at %s: %s", o.Stage, o.Reason)
	default:
		return fmt.Sprintf("skipped: %s", o.Reason)
	}
}
