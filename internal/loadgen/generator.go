package loadgen

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// randomInt returns a uniform integer in [0, n).
func randomInt(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// playerContact is the join payload for the i-th generated player.
type playerContact struct {
	OrgID     string `json:"orgId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

func generatePlayers(orgID string, n int) []playerContact {
	out := make([]playerContact, n)
	for i := range out {
		out[i] = playerContact{
			OrgID:     orgID,
			FirstName: "Load",
			LastName:  fmt.Sprintf("Player%04d", i),
			Email:     fmt.Sprintf("load-%04d@%s.bitgalaxy.test", i, orgID),
		}
	}
	return out
}

// generateRuns spreads n runs over userIDs. About replayRatio of them reuse
// the run id of an earlier run of the same player.
func generateRuns(userIDs []string, n int, replayRatio float64, maxScore int) []Run {
	if len(userIDs) == 0 {
		return nil
	}
	const precision = 1_000_000
	replayCut := int(replayRatio * precision)

	runs := make([]Run, 0, n)
	byUser := make(map[string][]int, len(userIDs))
	for len(runs) < n {
		user := userIDs[randomInt(len(userIDs))]
		prev := byUser[user]
		if len(prev) > 0 && randomInt(precision) < replayCut {
			orig := runs[prev[randomInt(len(prev))]]
			runs = append(runs, Run{UserID: user, RunID: orig.RunID, Score: orig.Score, Replay: true})
			continue
		}
		byUser[user] = append(byUser[user], len(runs))
		runs = append(runs, Run{UserID: user, RunID: uuid.NewString(), Score: randomInt(maxScore + 1)})
	}
	return runs
}
