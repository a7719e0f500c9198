package workflow

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
)

// Outcome reports one request of a batch. Cancelled is set for requests that
// were never started because the batch context ended first.
type Outcome struct {
	Index     int                     `json:"index"`
	Result    *records.AnalysisResult `json:"result,omitempty"`
	Stage     Stage                   `json:"stage,omitempty"`
	Cancelled bool                    `json:"cancelled"`
	Error     string                  `json:"error,omitempty"`

	Err error `json:"-"`
}

// RunBatch runs reqs with at most MaxConcurrency in flight. Excess requests
// wait for a free slot. A failing run does not stop the batch. Cancelling ctx
// stops dispatch; runs already started finish on their own.
func (rt *Runtime) RunBatch(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(rt.Config.MaxConcurrency)

	for i := range reqs {
		outcomes[i].Index = i

		if err := ctx.Err(); err != nil {
			outcomes[i].cancel(fmt.Errorf("%w: %w", ErrNotStarted, err))
			continue
		}

		g.Go(func() error {
			res, stage, err := rt.execute(ctx, reqs[i])
			if errors.Is(err, ErrNotStarted) {
				outcomes[i].cancel(err)
				return nil
			}

			outcomes[i].Result = res
			outcomes[i].Stage = stage
			if err != nil {
				outcomes[i].Err = err
				outcomes[i].Error = err.Error()
			}
			return nil
		})
	}

	g.Wait()

	var completed, failed, rejected, cancelled int
	for _, o := range outcomes {
		switch {
		case o.Cancelled:
			cancelled++
		case o.Err != nil:
			rejected++
		case o.Result.Status == records.StatusFailed:
			failed++
		default:
			completed++
		}
	}
	rt.Logger.InfoContext(ctx, "batch complete",
		"requests", len(reqs),
		"completed", completed,
		"failed", failed,
		"rejected", rejected,
		"cancelled", cancelled,
	)

	return outcomes
}

func (o *Outcome) cancel(err error) {
	o.Cancelled = true
	o.Err = err
	o.Error = err.Error()
}
