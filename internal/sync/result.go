package sync

import (
	"fmt"
	"time"
)

// Stage names the pipeline step a per-message problem happened in.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageParse      Stage = "parse"
	StageStorage    Stage = "storage"
	StagePersist    Stage = "persist"
	StageCheckpoint Stage = "checkpoint"
)

// MessageError is a per-message failure that did not stop the run.
type MessageError struct {
	UID       uint32
	MessageID string
	Stage     Stage
	Err       error
}

func (e MessageError) Error() string {
	return fmt.Sprintf("uid %d (%s) %s: %v", e.UID, e.MessageID, e.Stage, e.Err)
}

// Skip is a message left out on purpose.
type Skip struct {
	UID      uint32
	DedupKey string
	Reason   string
}

// Result summarizes one sync run.
type Result struct {
	AccountID string
	StartedAt time.Time
	Duration  time.Duration

	// WindowStart is the lower bound handed to the server search.
	WindowStart time.Time
	Candidates  int

	// Known counts candidates already ingested by an earlier run.
	Known int

	// Ingested counts entries this run committed. A run that fails before
	// persistence reports zero; a run cancelled during persistence is
	// Failed and still counts the entries committed before it stopped,
	// since those stay in the store.
	Ingested int

	Skipped []Skip
	Errors  []MessageError

	// ClassifierErr is set when the window was filed by the fail-open
	// default after the classifier failed.
	ClassifierErr error

	// Checkpoint is the watermark stored by this run, nil when the run did
	// not complete its window.
	Checkpoint *time.Time

	// Reason explains a failed run.
	Reason string
}

// Failed reports whether the run ended before completing its window.
func (r *Result) Failed() bool {
	return r.Reason != ""
}

// ReclassifyResult summarizes one reclassify pass.
type ReclassifyResult struct {
	AccountID string
	Checked   int
	Spam      int
	Inbox     int
	// Raced counts entries another writer changed between the read and
	// the update.
	Raced int
}
