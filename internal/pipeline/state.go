package pipeline

// Status is the state of a run.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusFailed           Status = "failed"
	StatusRejected         Status = "rejected"
	StatusSucceeded        Status = "succeeded"
	StatusAborted          Status = "aborted"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusRejected, StatusSucceeded, StatusAborted:
		return true
	}
	return false
}

// transitions lists the allowed state changes. Terminal states have no entry.
var transitions = map[Status][]Status{
	StatusPending:          {StatusRunning, StatusAborted},
	StatusRunning:          {StatusRunning, StatusAwaitingApproval, StatusFailed, StatusSucceeded, StatusAborted},
	StatusAwaitingApproval: {StatusRunning, StatusRejected, StatusAborted},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StepStatus is the state of a single step within a run.
type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepRunning          StepStatus = "running"
	StepSucceeded        StepStatus = "succeeded"
	StepFailed           StepStatus = "failed"
	StepAwaitingApproval StepStatus = "awaiting_approval"
	StepApproved         StepStatus = "approved"
	StepRejected         StepStatus = "rejected"
	StepAborted          StepStatus = "aborted"
)

// passed reports whether the step lets its successor start.
func (s StepStatus) passed() bool {
	return s == StepSucceeded || s == StepApproved
}

// Decision is the outcome of an approval gate.
type Decision string

const (
	DecisionPending Decision = "pending"
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision converts user input into a Decision.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "approve", "approved", "yes":
		return DecisionApprove, nil
	case "reject", "rejected", "no":
		return DecisionReject, nil
	}
	return "", configErrorf("unknown decision %q (want approve or reject)", s)
}
