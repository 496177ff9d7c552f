package service

import (
	"fmt"
	"strings"
)

// PartialError reports a multi-step operation that failed after some of its
// ledger mutations were confirmed. Completed describes the state left behind.
type PartialError struct {
	Op        string
	Completed string
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s failed after %s: %v", e.Op, e.Completed, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// OutcomePipelineError reports a prediction that was created but whose
// outcomes could not all be added. The prediction stays in the
// initializing state.
type OutcomePipelineError struct {
	Prediction string
	Added      map[string]int64
	Failed     string
	Err        error
}

func (e *OutcomePipelineError) Error() string {
	added := make([]string, 0, len(e.Added))
	for name := range e.Added {
		added = append(added, name)
	}
	return fmt.Sprintf("prediction %s created but adding outcome %q failed (added: [%s]): %v",
		e.Prediction, e.Failed, strings.Join(added, ", "), e.Err)
}

func (e *OutcomePipelineError) Unwrap() error {
	return e.Err
}
