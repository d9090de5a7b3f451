package radar

import (
	"time"
)

// Outcome describes what happened to a single candidate during a fetch run.
type Outcome string

const (
	OutcomeDownloaded Outcome = "downloaded"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeMissing    Outcome = "missing"
	OutcomeFailed     Outcome = "failed"
)

// Candidate is one minute of the lookback window and where it would be stored.
type Candidate struct {
	At       time.Time `json:"at"`
	Stamp    string    `json:"stamp"`
	URL      string    `json:"url"`
	FileName string    `json:"fileName"`
}

// Tile is a radar image stored on local disk.
type Tile struct {
	Name string    `json:"name"`
	Path string    `json:"-"`
	At   time.Time `json:"at"`
	Size int64     `json:"size"`
}

// Attempt is the journal record for one candidate in one run.
type Attempt struct {
	RunID       string
	URL         string
	FileName    string
	Outcome     Outcome
	Bytes       int
	Err         string
	AttemptedAt time.Time
}

// JournalSummary aggregates journal records for the sensor attributes.
type JournalSummary struct {
	Attempts       int       `json:"attempts"`
	Downloaded     int       `json:"downloaded"`
	Missing        int       `json:"missing"`
	Failed         int       `json:"failed"`
	LastDownloadAt time.Time `json:"lastDownloadAt,omitempty"`
	LastURL        string    `json:"lastUrl,omitempty"`
}

// FetchReport summarises one pass over the lookback window.
type FetchReport struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Candidates int       `json:"candidates"`
	Downloaded int       `json:"downloaded"`
	Skipped    int       `json:"skipped"`
	Missing    int       `json:"missing"`
	Failed     int       `json:"failed"`

	// LatestURL is the newest candidate URL whose image is stored after the run.
	LatestURL string   `json:"latestUrl,omitempty"`
	URLs      []string `json:"urls,omitempty"`
}

// SensorSnapshot is the state and attribute set of the radar sensor entity.
type SensorSnapshot struct {
	Name        string          `json:"name"`
	State       string          `json:"state"`
	ImageCount  int             `json:"imageCount"`
	NewestImage time.Time       `json:"newestImage,omitempty"`
	OldestImage time.Time       `json:"oldestImage,omitempty"`
	LastRun     *FetchReport    `json:"lastRun,omitempty"`
	Journal     *JournalSummary `json:"journal,omitempty"`
}
