package runtime

import (
	"context"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/process"
)

// peakTracker keeps the highest memory sample of a job, in KB.
type peakTracker struct {
	mu   sync.Mutex
	kb   int64
	seen bool
}

// observe records a sample of usage bytes and returns the peak so far.
func (p *peakTracker) observe(bytes uint64) *int32 {
	kb := int64(bytes / 1024)
	if kb > math.MaxInt32 {
		kb = math.MaxInt32
	}

	p.mu.Lock()
	if !p.seen || kb > p.kb {
		p.kb = kb
	}
	p.seen = true
	p.mu.Unlock()
	return p.current()
}

// current returns the peak so far, nil before the first sample.
func (p *peakTracker) current() *int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.seen {
		return nil
	}
	v := int32(p.kb)
	return &v
}

// treeRSS sums the resident set size of pid and all of its descendants.
func treeRSS(ctx context.Context, pid int32) (uint64, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, errors.Wrapf(err, "process %d", pid)
	}
	return procRSS(ctx, proc)
}

func procRSS(ctx context.Context, proc *process.Process) (uint64, error) {
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "memory of process %d", proc.Pid)
	}
	total := info.RSS

	children, err := proc.ChildrenWithContext(ctx)
	if err != nil {
		// Children may exit between listing and sampling.
		return total, nil
	}
	for _, child := range children {
		if rss, err := procRSS(ctx, child); err == nil {
			total += rss
		}
	}
	return total, nil
}
