package datarecording

import (
	"os"
	"strings"
	"time"
)

const timeFormat = "2006-01-02 15:04:05.000000000"

// RunRecorder records the properties of one run into RunTable.
type RunRecorder struct {
	runID    string
	recorder DataRecorder
	entries  []RunInfo
}

// NewRunRecorder creates a RunRecorder and the table it writes into.
func NewRunRecorder(recorder DataRecorder, runID string) *RunRecorder {
	recorder.CreateTable(RunTable, RunInfo{})

	return &RunRecorder{
		runID:    runID,
		recorder: recorder,
	}
}

// Start records the start time, the command line and the working directory.
func (r *RunRecorder) Start() {
	r.Set("Start Time", time.Now().Format(timeFormat))
	r.Set("Command", strings.Join(os.Args, " "))

	if wd, err := os.Getwd(); err == nil {
		r.Set("Working Directory", wd)
	}
}

// Set records a property. Properties are written out by End.
func (r *RunRecorder) Set(property, value string) {
	r.entries = append(r.entries, RunInfo{
		RunID:    r.runID,
		Property: property,
		Value:    value,
	})
}

// End writes all properties along with the end time and flushes.
func (r *RunRecorder) End() error {
	r.Set("End Time", time.Now().Format(timeFormat))

	for _, entry := range r.entries {
		r.recorder.InsertData(RunTable, entry)
	}

	r.entries = nil

	return r.recorder.Flush()
}
