package migration

var transitions = map[Status][]Status{
	StatusPending:     {StatusRunning},
	StatusRunning:     {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:      {StatusRunning, StatusCancelled},
	StatusCompleted:   {StatusRollingBack},
	StatusFailed:      {StatusRollingBack},
	StatusRollingBack: {StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one edge set of the job state machine as used by a single
// operation. Operations name their own From set because the same target can
// be reached from states that a given operation must not accept (cancel may
// not finish a rollback, for example).
type Transition struct {
	From []Status
	To   Status
}

var (
	TransitionStart        = Transition{From: []Status{StatusPending}, To: StatusRunning}
	TransitionPause        = Transition{From: []Status{StatusRunning}, To: StatusPaused}
	TransitionResume       = Transition{From: []Status{StatusPaused}, To: StatusRunning}
	TransitionCancel       = Transition{From: []Status{StatusRunning, StatusPaused}, To: StatusCancelled}
	TransitionComplete     = Transition{From: []Status{StatusRunning}, To: StatusCompleted}
	TransitionFail         = Transition{From: []Status{StatusRunning}, To: StatusFailed}
	TransitionRollback     = Transition{From: []Status{StatusCompleted, StatusFailed}, To: StatusRollingBack}
	TransitionRollbackDone = Transition{From: []Status{StatusRollingBack}, To: StatusCancelled}
)

// Allows reports whether the transition accepts a job currently in from.
func (t Transition) Allows(from Status) bool {
	for _, s := range t.From {
		if s == from {
			return CanTransition(from, t.To)
		}
	}
	return false
}
