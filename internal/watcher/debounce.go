package watcher

const (
	// defaultDebounceCount is how many consecutive cycles a score must
	// hold before the state machine arms or disarms.
	defaultDebounceCount = 3
	// defaultHysteresis is the band below the threshold inside which a
	// failing score neither arms nor disarms.
	defaultHysteresis = 5.0
)

type alertState struct {
	consecutivePasses int
	consecutiveFails  int
	armed             bool
}

// Debouncer suppresses alert flapping around the score threshold with a
// per-key pass/fail state machine. Owned by the scheduler goroutine; no
// locking.
type Debouncer struct {
	states        map[string]*alertState
	debounceCount int
	hysteresis    float64
}

// NewDebouncer returns a debouncer; non-positive arguments fall back to
// the defaults (3 cycles, 5.0 points).
func NewDebouncer(debounceCount int, hysteresis float64) *Debouncer {
	if debounceCount <= 0 {
		debounceCount = defaultDebounceCount
	}
	if hysteresis <= 0 {
		hysteresis = defaultHysteresis
	}
	return &Debouncer{
		states:        map[string]*alertState{},
		debounceCount: debounceCount,
		hysteresis:    hysteresis,
	}
}

// ShouldTrigger folds one evaluation into the key's state machine and
// reports whether alerts are armed afterwards. Passing scores arm after
// debounceCount consecutive passes and stay armed; disarming requires
// debounceCount consecutive scores at or below threshold-hysteresis.
// Scores inside the hysteresis band reset the pass streak but do not
// advance the fail streak.
func (d *Debouncer) ShouldTrigger(key string, score, threshold float64) bool {
	st, ok := d.states[key]
	if !ok {
		st = &alertState{}
		d.states[key] = st
	}

	if score >= threshold {
		st.consecutivePasses++
		st.consecutiveFails = 0
		if st.consecutivePasses >= d.debounceCount {
			st.armed = true
		}
	} else {
		st.consecutivePasses = 0
		if score <= threshold-d.hysteresis {
			st.consecutiveFails++
			if st.consecutiveFails >= d.debounceCount {
				st.armed = false
			}
		}
	}
	return st.armed
}
