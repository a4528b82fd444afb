package pipeline

import "time"

// GateState is a copy of an approval gate's state.
type GateState struct {
	ID          string        `json:"id"`
	Message     string        `json:"message,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Decision    Decision      `json:"decision"`
	Actor       string        `json:"actor,omitempty"`
	Comment     string        `json:"comment,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
	ResolvedAt  time.Time     `json:"resolved_at,omitzero"`
}

// Gate is a single approval checkpoint. Its fields are guarded by the owning
// run's lock; resolved is closed exactly once when a decision is recorded.
type Gate struct {
	id          string
	step        int
	policy      GatePolicy
	decision    Decision
	actor       string
	comment     string
	requestedAt time.Time
	resolvedAt  time.Time
	resolved    chan struct{}
}

func newGate(id string, step int, policy GatePolicy, now time.Time) *Gate {
	return &Gate{
		id:          id,
		step:        step,
		policy:      policy,
		decision:    DecisionPending,
		requestedAt: now,
		resolved:    make(chan struct{}),
	}
}

// Resolved is closed once the gate has a decision.
func (g *Gate) Resolved() <-chan struct{} {
	return g.resolved
}

func (g *Gate) resolve(decision Decision, actor, comment string, now time.Time) {
	g.decision = decision
	g.actor = actor
	g.comment = comment
	g.resolvedAt = now
	close(g.resolved)
}

func (g *Gate) state() GateState {
	return GateState{
		ID:          g.id,
		Message:     g.policy.Message,
		Timeout:     g.policy.Timeout,
		Decision:    g.decision,
		Actor:       g.actor,
		Comment:     g.comment,
		RequestedAt: g.requestedAt,
		ResolvedAt:  g.resolvedAt,
	}
}

// GateNotifier is told when a run starts waiting on a gate. Notify must not
// block; the CLI prompts the operator and the server relies on its API.
type GateNotifier interface {
	Notify(run *Run, gate GateState)
}

// GateNotifierFunc adapts a function to GateNotifier.
type GateNotifierFunc func(run *Run, gate GateState)

// Notify implements GateNotifier.
func (f GateNotifierFunc) Notify(run *Run, gate GateState) {
	f(run, gate)
}
