package loadgen

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/okian/bitgalaxy/internal/domain/progression"
	"github.com/okian/bitgalaxy/pkg/logger"
)

// expectation is what the accepted runs say one player's record must hold.
type expectation struct {
	xp       int
	bestTier int
	weekKey  string
}

func expectations(outcomes []outcome) map[string]*expectation {
	out := map[string]*expectation{}
	for _, o := range outcomes {
		e, ok := out[o.run.UserID]
		if !ok {
			e = &expectation{}
			out[o.run.UserID] = e
		}
		if o.accepted == nil {
			continue
		}
		if o.accepted.XPGranted {
			e.xp += o.accepted.XPAwarded
		}
		if o.accepted.WeekKey != e.weekKey {
			// A week rollover mid-run restarts the weekly best.
			e.weekKey = o.accepted.WeekKey
			e.bestTier = 0
		}
		e.bestTier = max(e.bestTier, o.accepted.Tier)
	}
	return out
}

// verify reads every player back and compares it with the accepted runs.
// It returns how many players matched.
func (r *Runner) verify(ctx context.Context, userIDs []string, outcomes []outcome) (int, error) {
	want := expectations(outcomes)
	slug := progression.EventSlug(r.cfg.QuestID)

	verified := 0
	var mismatches []string
	for _, id := range userIDs {
		var res playerResponse
		path := "/v1/orgs/" + url.PathEscape(r.cfg.OrgID) + "/players/" + url.PathEscape(id)
		status, err := r.client.get(ctx, path, &res)
		if err != nil {
			return verified, fmt.Errorf("read player %s: %w", id, err)
		}
		if status != http.StatusOK {
			return verified, fmt.Errorf("read player %s: status %d", id, status)
		}

		e := want[id]
		if e == nil {
			e = &expectation{}
		}
		if res.Player.TotalXP != e.xp {
			mismatches = append(mismatches, fmt.Sprintf("%s: totalXP %d, accepted runs awarded %d", id, res.Player.TotalXP, e.xp))
			continue
		}
		if e.weekKey != "" {
			best, ok, err := res.Player.SpecialEvents.ArcadeBest(slug)
			switch {
			case err != nil:
				mismatches = append(mismatches, fmt.Sprintf("%s: %v", id, err))
				continue
			case !ok || best.WeekKey != e.weekKey || best.BestTier != e.bestTier:
				mismatches = append(mismatches, fmt.Sprintf("%s: best tier %d in %s, accepted runs reached %d in %s",
					id, best.BestTier, best.WeekKey, e.bestTier, e.weekKey))
				continue
			}
		}
		verified++
	}

	for _, m := range mismatches {
		r.log.Warn(ctx, "player mismatch", logger.String("detail", m))
	}
	if len(mismatches) > 0 {
		return verified, fmt.Errorf("%w: %d of %d players disagree", ErrVerification, len(mismatches), len(userIDs))
	}
	return verified, nil
}
