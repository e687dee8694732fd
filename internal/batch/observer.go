package batch

import "batchzip/internal/models"

// Observer receives a run's progress. Reports are transient: each one
// replaces the last, and "" clears the display.
type Observer interface {
	Report(status string)
	Transition(state models.RunState)
}

// ReportFunc adapts a plain status callback to Observer. State changes are ignored.
type ReportFunc func(status string)

func (f ReportFunc) Report(status string) { f(status) }

func (f ReportFunc) Transition(models.RunState) {}

type nopObserver struct{}

func (nopObserver) Report(string) {}

func (nopObserver) Transition(models.RunState) {}
