package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jmccarv/ciphersolve/internal/optimizer"
)

// printResult writes the epochs, the best distinct solutions and, when the
// cipher has a known solution, how many epochs found it.
func printResult(w io.Writer, res *optimizer.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "epoch\tscore\tsweeps\telapsed\tproximity\t")
	for _, e := range res.Epochs {
		prox := "-"
		if e.HasKnown {
			prox = fmt.Sprintf("%.2f", e.Proximity)
		}
		status := ""
		switch {
		case e.Err != nil:
			status = "failed: " + e.Err.Error()
		case e.TimedOut:
			status = "stopped"
		case e.Correct:
			status = "correct"
		}
		fmt.Fprintf(tw, "%d\t%.4f\t%d\t%v\t%s\t%s\n",
			e.Epoch, e.Score, e.Sweeps, e.Elapsed.Round(time.Millisecond), prox, status)
	}
	tw.Flush()
	fmt.Fprintln(w)

	for i, s := range res.Top {
		fmt.Fprintf(w, "%d. %.4f  %s\n", i+1, s.Score(), s)
	}
	if res.Best != nil {
		fmt.Fprintln(w, "key:", res.Best.Key())
	}
	if res.HasKnown {
		correct := 0
		for _, e := range res.Epochs {
			if e.Correct {
				correct++
			}
		}
		fmt.Fprintf(w, "correct epochs: %d of %d (%.2f%%)\n", correct, len(res.Epochs), res.CorrectFraction*100)
	}

	stopped := ""
	if res.TimedOut {
		stopped = " (stopped early)"
	}
	fmt.Fprintf(w, "Evaluated %d epochs in %v%s\n", len(res.Epochs), res.Elapsed.Round(time.Millisecond), stopped)
}
