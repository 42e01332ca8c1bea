// Package loadgen drives a running BitGalaxy server with concurrent arcade
// runs and checks that every accepted run was credited exactly once.
package loadgen

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid loadgen config")

// Config holds configuration for a load run.
type Config struct {
	BaseURL string        // Base URL of the service
	OrgID   string        // Org to play in; empty picks a fresh one
	QuestID string        // Arcade quest to complete
	Players int           // Players to join
	Runs    int           // Runs to submit across all players
	Workers int           // Concurrent submitters
	Timeout time.Duration // HTTP request timeout
	// ReplayRatio is the share of runs resubmitted with an already used run id.
	ReplayRatio float64
	// MaxScore bounds generated scores.
	MaxScore int
	Verbose  bool
}

// DefaultConfig returns a Config suitable for a local server.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:9080",
		QuestID:     "lunchbox-run",
		Players:     50,
		Runs:        1000,
		Workers:     8,
		Timeout:     10 * time.Second,
		ReplayRatio: 0.1,
		MaxScore:    2500,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.QuestID == "":
		return fmt.Errorf("%w: quest id is required", ErrInvalidConfig)
	case c.Players <= 0:
		return fmt.Errorf("%w: players must be positive", ErrInvalidConfig)
	case c.Runs < 0:
		return fmt.Errorf("%w: runs must not be negative", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.ReplayRatio < 0 || c.ReplayRatio >= 1:
		return fmt.Errorf("%w: replay ratio must be within [0,1)", ErrInvalidConfig)
	case c.MaxScore <= 0:
		return fmt.Errorf("%w: max score must be positive", ErrInvalidConfig)
	}
	return nil
}

// Run is one arcade submission.
type Run struct {
	UserID string `json:"userId"`
	RunID  string `json:"runId"`
	Score  int    `json:"score"`
	Replay bool   `json:"-"`
}

// Stats holds load run statistics.
type Stats struct {
	PlayersJoined   int
	RunsSubmitted   int
	RunsAccepted    int
	RunsRejected    map[string]int
	RunsFailed      int
	PlayersVerified int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}

// Rejected returns the total of rejected runs across all codes.
func (s *Stats) Rejected() int {
	n := 0
	for _, c := range s.RunsRejected {
		n += c
	}
	return n
}
