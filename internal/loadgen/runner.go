package loadgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/pkg/logger"
)

// ErrVerification is returned when server state disagrees with the
// accepted runs.
var ErrVerification = errors.New("verification failed")

// reportInterval paces progress logs during submission.
const reportInterval = time.Second

type healthResponse struct {
	Status string `json:"status"`
}

type joinResponse struct {
	UserID string `json:"userId"`
}

type completeBody struct {
	OrgID  string `json:"orgId"`
	UserID string `json:"userId"`
	Score  int    `json:"score"`
	RunID  string `json:"runId"`
}

type completeResponse struct {
	WeekKey   string `json:"weekKey"`
	Tier      int    `json:"tier"`
	XPAwarded int    `json:"xpAwarded"`
	XPGranted bool   `json:"xpGranted"`
}

type playerResponse struct {
	Player model.Player `json:"player"`
}

// outcome is the server's answer to one run.
type outcome struct {
	run      Run
	accepted *completeResponse
	code     string
	err      error
}

// Runner executes one load run against a server.
type Runner struct {
	cfg    Config
	client *httpClient
	log    logger.Logger
}

// NewRunner validates cfg and builds a Runner. A nil log discards output.
func NewRunner(cfg Config, log logger.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OrgID == "" {
		cfg.OrgID = "loadgen-" + uuid.NewString()[:8]
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		client: newHTTPClient(cfg.BaseURL, cfg.Timeout),
		log:    log,
	}, nil
}

// OrgID returns the org the runner plays in.
func (r *Runner) OrgID() string { return r.cfg.OrgID }

// Run joins players, submits runs concurrently and verifies the result.
// Stats are returned even when verification fails.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now(), RunsRejected: map[string]int{}}

	r.log.Info(ctx, "starting bitgalaxy load run",
		logger.String("baseURL", r.cfg.BaseURL),
		logger.String("orgId", r.cfg.OrgID),
		logger.String("questId", r.cfg.QuestID),
		logger.Int("players", r.cfg.Players),
		logger.Int("runs", r.cfg.Runs),
		logger.Int("workers", r.cfg.Workers))

	if err := r.checkHealth(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	userIDs, err := r.joinPlayers(ctx)
	if err != nil {
		return stats, fmt.Errorf("join players: %w", err)
	}
	stats.PlayersJoined = len(userIDs)

	runs := generateRuns(userIDs, r.cfg.Runs, r.cfg.ReplayRatio, r.cfg.MaxScore)
	outcomes := r.submit(ctx, runs)
	tally(stats, outcomes)

	verified, err := r.verify(ctx, userIDs, outcomes)
	stats.PlayersVerified = verified

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	r.report(ctx, stats)

	if err != nil {
		return stats, err
	}
	r.log.Info(ctx, "load run completed successfully")
	return stats, nil
}

func (r *Runner) checkHealth(ctx context.Context) error {
	var h healthResponse
	status, err := r.client.get(ctx, "/healthz", &h)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if status != http.StatusOK || h.Status != "ok" {
		return fmt.Errorf("unexpected health status %d %q", status, h.Status)
	}
	return nil
}

func (r *Runner) joinPlayers(ctx context.Context) ([]string, error) {
	contacts := generatePlayers(r.cfg.OrgID, r.cfg.Players)
	ids := make([]string, 0, len(contacts))
	for _, c := range contacts {
		var res joinResponse
		var apiErr apiError
		status, err := r.client.post(ctx, "/v1/players/join", c, &res, &apiErr)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("join %s: status %d %s", c.Email, status, apiErr.Code)
		}
		ids = append(ids, res.UserID)
	}
	return ids, nil
}

// submit posts runs from a pool of workers and collects every outcome.
func (r *Runner) submit(ctx context.Context, runs []Run) []outcome {
	path := "/v1/arcade/" + url.PathEscape(r.cfg.QuestID) + "/complete"
	out := make([]outcome, len(runs))

	var (
		submitted  int64
		lastReport atomic.Int64
		wg         sync.WaitGroup
	)
	jobs := make(chan int, r.cfg.Workers*2)

	for range r.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = r.submitOne(ctx, path, runs[i])
				n := atomic.AddInt64(&submitted, 1)

				if !r.cfg.Verbose {
					continue
				}
				now := time.Now().UnixNano()
				last := lastReport.Load()
				if now-last >= int64(reportInterval) && lastReport.CompareAndSwap(last, now) {
					r.log.Info(ctx, "progress", logger.Int64("submitted", n), logger.Int("total", len(runs)))
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range runs {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	wg.Wait()
	return out
}

func (r *Runner) submitOne(ctx context.Context, path string, run Run) outcome {
	if err := ctx.Err(); err != nil {
		return outcome{run: run, err: err}
	}
	var res completeResponse
	var apiErr apiError
	status, err := r.client.post(ctx, path, completeBody{
		OrgID: r.cfg.OrgID, UserID: run.UserID, Score: run.Score, RunID: run.RunID,
	}, &res, &apiErr)
	switch {
	case err != nil:
		return outcome{run: run, err: err}
	case status == http.StatusOK:
		return outcome{run: run, accepted: &res}
	case status == http.StatusConflict:
		return outcome{run: run, code: apiErr.Code}
	default:
		return outcome{run: run, err: fmt.Errorf("status %d %s", status, apiErr.Code)}
	}
}

func tally(stats *Stats, outcomes []outcome) {
	for _, o := range outcomes {
		switch {
		case errors.Is(o.err, context.Canceled):
			continue
		case o.err != nil:
			stats.RunsSubmitted++
			stats.RunsFailed++
		case o.accepted != nil:
			stats.RunsSubmitted++
			stats.RunsAccepted++
		default:
			stats.RunsSubmitted++
			stats.RunsRejected[o.code]++
		}
	}
}

func (r *Runner) report(ctx context.Context, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.RunsSubmitted) / stats.Duration.Seconds()
	}
	fields := []logger.Field{
		logger.Int("playersJoined", stats.PlayersJoined),
		logger.Int("runsSubmitted", stats.RunsSubmitted),
		logger.Int("runsAccepted", stats.RunsAccepted),
		logger.Int("runsRejected", stats.Rejected()),
		logger.Int("runsFailed", stats.RunsFailed),
		logger.Int("playersVerified", stats.PlayersVerified),
		logger.Duration("duration", stats.Duration),
		logger.Float64("runsPerSecond", perSecond),
	}
	for code, n := range stats.RunsRejected {
		fields = append(fields, logger.Int("rejected."+code, n))
	}
	r.log.Info(ctx, "final statistics", fields...)
}
