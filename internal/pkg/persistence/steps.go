package persistence

import (
	"time"

	"github.com/pedscribe/pedscribe/internal/pkg/status"
)

// SetStep returns a copy of steps with the entry for st replaced or appended
func SetStep(steps []ProcessingStep, st status.Step, sst status.StepStatus, at time.Time) []ProcessingStep {
	res := make([]ProcessingStep, 0, len(steps)+1)
	found := false
	for _, s := range steps {
		if s.Step == st.String() {
			if !found {
				res = append(res, ProcessingStep{Step: st.String(), Status: sst.String(), Timestamp: at})
				found = true
			}
			continue
		}
		res = append(res, s)
	}
	if !found {
		res = append(res, ProcessingStep{Step: st.String(), Status: sst.String(), Timestamp: at})
	}
	return res
}

// FindStep returns the entry for st
func FindStep(steps []ProcessingStep, st status.Step) (ProcessingStep, bool) {
	for _, s := range steps {
		if s.Step == st.String() {
			return s, true
		}
	}
	return ProcessingStep{}, false
}

// StepCompleted checks if st finished successfully
func StepCompleted(steps []ProcessingStep, st status.Step) bool {
	s, ok := FindStep(steps, st)
	return ok && status.StepStatusFrom(s.Status) == status.Done
}
