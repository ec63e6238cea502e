// Parallel stage runner: a bounded pool of workers draining a list of units

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maruel/natural"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the default number of concurrently running units
const DefaultWorkers = 4

// Task processes one work unit. Tasks report failure through the result,
// they never abort the batch
type Task func(ctx context.Context, unit *WorkUnit) StageResult

// Runner executes a task over discovered work units with at most Workers
// of them in flight
type Runner struct {
	Workers  int
	Progress bool
	// Output receives the progress bar (stderr if nil)
	Output io.Writer
}

// BatchSummary aggregates the results of one stage run.
// Succeeded + Failed + Skipped == Total
type BatchSummary struct {
	Stage     string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Results   []StageResult
	Elapsed   time.Duration
}

// OK reports whether no unit failed. Callers decide whether this matters
func (s *BatchSummary) OK() bool {
	return s.Failed == 0
}

func (s *BatchSummary) add(res StageResult) {
	switch res.Status {
	case Succeeded:
		s.Succeeded++
	case Skipped:
		s.Skipped++
	default:
		s.Failed++
	}
	s.Results = append(s.Results, res)
}

// FailedUnits returns the results of failed units
func (s *BatchSummary) FailedUnits() []StageResult {
	var failed []StageResult
	for _, r := range s.Results {
		if r.Status == Failed {
			failed = append(failed, r)
		}
	}
	return failed
}

func (s *BatchSummary) String() string {
	return fmt.Sprintf("%s: Successful: %d, Failed: %d, Skipped: %d (total %d, %s)",
		s.Stage, s.Succeeded, s.Failed, s.Skipped, s.Total, s.Elapsed.Round(time.Millisecond))
}

// Run executes task for every unit of d and waits for all of them.
// Units that were skipped during discovery are counted as skipped. When ctx
// is cancelled, units that have not started yet are recorded as failed
func (r *Runner) Run(ctx context.Context, d *Discovery, task Task) *BatchSummary {
	start := time.Now()
	summary := &BatchSummary{Stage: d.Stage, Total: d.Total()}
	for _, sk := range d.Skipped {
		summary.add(StageResult{UnitID: sk.ID, Status: Skipped, Message: string(sk.Reason)})
	}

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	var pbs *mpb.Progress
	var bar *mpb.Bar
	if r.Progress && len(d.Units) > 0 {
		out := r.Output
		if out == nil {
			out = os.Stderr
		}
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(out))
		bar = pbs.AddBar(int64(len(d.Units)),
			mpb.PrependDecorators(
				decor.Name(d.Stage+": ", decor.WC{W: len(d.Stage) + 2, C: decor.DindentRight}),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
				decor.EwmaETA(decor.ET_STYLE_GO, 10),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)
	}

	var (
		mu   sync.Mutex
		done atomic.Int64
		grp  errgroup.Group
	)
	grp.SetLimit(workers)
	total := len(d.Units)

	for _, unit := range d.Units {
		unit := unit
		grp.Go(func() error {
			t0 := time.Now()
			var res StageResult
			if err := ctx.Err(); err != nil {
				res = failure(unit.ID, "not started: %v", err)
				res.Attempts = 0
			} else {
				res = runTask(ctx, task, unit)
			}
			if res.UnitID == "" {
				res.UnitID = unit.ID
			}
			res.Elapsed = time.Since(t0)

			mu.Lock()
			summary.add(res)
			mu.Unlock()

			n := done.Add(1)
			if res.Status == Failed {
				log.Errorf("[%s] %d/%d %s failed: %s", d.Stage, n, total, unit.ID, res.Message)
			} else {
				log.Debugf("[%s] %d/%d %s %s in %s", d.Stage, n, total, unit.ID, res.Status, res.Elapsed.Round(time.Millisecond))
			}
			if bar != nil {
				bar.EwmaIncrement(res.Elapsed)
			}
			return nil
		})
	}
	grp.Wait()
	if pbs != nil {
		pbs.Wait()
	}

	sort.SliceStable(summary.Results, func(i, j int) bool {
		return natural.Less(summary.Results[i].UnitID, summary.Results[j].UnitID)
	})
	summary.Elapsed = time.Since(start)
	return summary
}

// runTask turns a panicking task into a failed unit
func runTask(ctx context.Context, task Task, unit *WorkUnit) (res StageResult) {
	defer func() {
		if p := recover(); p != nil {
			res = failure(unit.ID, "panic: %v", p)
		}
	}()
	return task(ctx, unit)
}
