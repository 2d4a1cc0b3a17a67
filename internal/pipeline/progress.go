package pipeline

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuulee/tilecount/internal/shard"
)

// progressReporter renders a single terminal bar across both passes. Each
// pass's average per-shard percentage is folded into the formula
// sum/2 + 50*pass, so pass 0 fills the first half of the bar and pass 1
// fills the second, preserved verbatim from the original tool.
type progressReporter struct {
	verbose   bool
	numShards int

	currentPass int32
	percents    []int32 // current pass's per-shard percent, len == numShards

	start time.Time
	done  chan struct{}
	once  sync.Once
}

func newProgressReporter(numShards int, verbose bool) *progressReporter {
	r := &progressReporter{
		verbose:   verbose,
		numShards: numShards,
		percents:  make([]int32, numShards),
		start:     time.Now(),
		done:      make(chan struct{}),
	}
	if verbose {
		go r.run()
	}
	return r
}

// forPass returns a shard.ProgressReporter that feeds this pass's shard
// updates into the shared bar, tagging them with pass so draw() can apply
// the sum/2 + 50*pass formula.
func (r *progressReporter) forPass(pass int) shard.ProgressReporter {
	atomic.StoreInt32(&r.currentPass, int32(pass))
	for i := range r.percents {
		atomic.StoreInt32(&r.percents[i], 0)
	}
	return &passReporter{r: r, pass: pass}
}

type passReporter struct {
	r    *progressReporter
	pass int
}

func (p *passReporter) Report(shardID, percent int) {
	if shardID < 0 || shardID >= len(p.r.percents) {
		return
	}
	atomic.StoreInt32(&p.r.percents[shardID], int32(percent))
}

func (r *progressReporter) run() {
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.draw(int(atomic.LoadInt32(&r.currentPass)))
		}
	}
}

// overall computes sum/2 + 50*pass from the current per-shard percentages.
func (r *progressReporter) overall(pass int) int {
	if r.numShards == 0 {
		return 50 + 50*pass
	}
	var sum int64
	for i := range r.percents {
		sum += int64(atomic.LoadInt32(&r.percents[i]))
	}
	avg := sum / int64(r.numShards)
	return int(avg/2) + 50*pass
}

func (r *progressReporter) draw(pass int) {
	if !r.verbose {
		return
	}
	pct := r.overall(pass)
	if pct > 100 {
		pct = 100
	}
	const width = 30
	filled := width * pct / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	fmt.Fprintf(os.Stderr, "\r[%s] %3d%%  %s\033[K", bar, pct, time.Since(r.start).Truncate(time.Second))
}

func (r *progressReporter) finish() {
	r.once.Do(func() {
		close(r.done)
		if r.verbose {
			fmt.Fprint(os.Stderr, "\n")
		}
	})
}
