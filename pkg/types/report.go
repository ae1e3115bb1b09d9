package types

import "time"

// MeterOutcome classifies how the backfill loop for one meter ended.
type MeterOutcome string

const (
	// OutcomeCaughtUp means the next day to fetch is today or later.
	OutcomeCaughtUp MeterOutcome = "caughtUp"
	// OutcomeNoProgress means a fetched month advanced nothing.
	OutcomeNoProgress MeterOutcome = "noProgress"
	// OutcomeEmptyFetch means a fetched month contained no points at all.
	OutcomeEmptyFetch MeterOutcome = "emptyFetch"
	// OutcomeSkippedNoHistory means a brand new meter had no earliest-data
	// hint, so there was nothing to anchor a backfill to.
	OutcomeSkippedNoHistory MeterOutcome = "skippedNoHistory"
	// OutcomeError means the meter's pass aborted on a portal or storage
	// failure.
	OutcomeError MeterOutcome = "error"
)

// MeterReport summarizes one meter's pass within a run.
type MeterReport struct {
	MeterID         string       `json:"meterID"`
	Address         string       `json:"address"`
	Outcome         MeterOutcome `json:"outcome"`
	Fetches         int          `json:"fetches"`
	ConsumedRecords int          `json:"consumedRecords"`
	ReturnedRecords int          `json:"returnedRecords"`
	Error           string       `json:"error,omitempty"`
}

// AccountReport summarizes one portal account's pass within a run.
type AccountReport struct {
	Account  string        `json:"account"`
	Customer *Customer     `json:"customer,omitempty"`
	Meters   []MeterReport `json:"meters,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// RunReport summarizes a full reconciliation run across all accounts.
type RunReport struct {
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	DryRun   bool            `json:"dryRun,omitempty"`
	Accounts []AccountReport `json:"accounts"`
}

// Failed reports whether any account or meter ended in an error.
func (r RunReport) Failed() bool {
	for _, a := range r.Accounts {
		if a.Error != "" {
			return true
		}
		for _, m := range a.Meters {
			if m.Outcome == OutcomeError {
				return true
			}
		}
	}
	return false
}

// TotalRecords returns how many records the run appended, or would have
// appended on a dry run, across all accounts and meters.
func (r RunReport) TotalRecords() int {
	var n int
	for _, a := range r.Accounts {
		for _, m := range a.Meters {
			n += m.ConsumedRecords + m.ReturnedRecords
		}
	}
	return n
}

const (
	// EventRunStarted is emitted once when a reconciliation run begins.
	EventRunStarted = "runStarted"
	// EventMeterDone is emitted after each meter finishes its pass.
	EventMeterDone = "meterDone"
	// EventRunFinished is emitted once with the full report attached.
	EventRunFinished = "runFinished"
)

// RunEvent is pushed to stream subscribers as a run progresses.
type RunEvent struct {
	Type    string       `json:"type"`
	Time    time.Time    `json:"time"`
	Account string       `json:"account,omitempty"`
	Meter   *MeterReport `json:"meter,omitempty"`
	Report  *RunReport   `json:"report,omitempty"`
}
