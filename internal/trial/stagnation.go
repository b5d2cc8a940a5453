package trial

const (
	// StagnationRounds is the streak of unchanged rounds that makes a pile inestimable.
	StagnationRounds = 3
	// StagnationClear is the streak length at or above which a rethrow clears it.
	StagnationClear = 5
)

// StagnationTracker detects estimation rounds that stop making progress.
type StagnationTracker struct {
	total    int
	previous int
	streak   int
}

func NewStagnationTracker(total int) *StagnationTracker {
	return &StagnationTracker{total: total, previous: total}
}

// RoundEnded records the unestimated count after a round and reports whether
// the pile is now inestimable.
func (s *StagnationTracker) RoundEnded(unestimated int) bool {
	if unestimated != 0 && unestimated == s.previous {
		s.streak++
	} else {
		s.streak = 0
	}
	s.previous = unestimated

	if s.streak >= StagnationRounds {
		s.previous = s.total
		return true
	}
	return false
}

// OnRethrow is called when the pile is thrown again. A streak survives the
// rethrow unless it has reached StagnationClear.
func (s *StagnationTracker) OnRethrow() {
	if s.streak >= StagnationClear {
		s.streak = 0
	}
}

func (s *StagnationTracker) Streak() int { return s.streak }
