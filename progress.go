package main

import (
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/jmccarv/ciphersolve/internal/optimizer"
)

// progress shows one bar per epoch, advanced after every sweep.
type progress struct {
	p      *mpb.Progress
	bar    *mpb.Bar
	epochs int
	best   atomic.Uint64
}

func newProgress(w io.Writer, epochs int) *progress {
	return &progress{
		p:      mpb.New(mpb.WithOutput(w), mpb.WithWidth(64)),
		epochs: epochs,
	}
}

func (pr *progress) SweepDone(p optimizer.Progress) {
	pr.best.Store(math.Float64bits(p.Score))
	if pr.bar == nil {
		pr.bar = pr.p.AddBar(int64(p.Sweeps),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("epoch %d/%d ", p.Epoch, pr.epochs)),
				decor.Percentage(decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.Any(func(decor.Statistics) string {
					return fmt.Sprintf("best %.3f ", math.Float64frombits(pr.best.Load()))
				}),
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
			),
		)
	}
	pr.bar.SetCurrent(int64(p.Sweep))
}

func (pr *progress) EpochDone(optimizer.EpochSummary) {
	if pr.bar == nil {
		return
	}
	if !pr.bar.Completed() {
		pr.bar.Abort(false)
	}
	pr.bar = nil
}

// Wait blocks until the bars have been drawn for the last time.
func (pr *progress) Wait() {
	pr.p.Wait()
}
