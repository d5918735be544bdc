// internal/frames/frames.go
package frames

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/browser"
	"github.com/xkilldash9x/signupguard/internal/observability"
)

// Snapshot is the set of frames attached to a page at one moment. It can be
// iterated once, and iteration stops as soon as the page navigates, since frame
// references do not survive a navigation.
type Snapshot struct {
	page     browser.Page
	gen      uint64
	frames   []browser.Frame
	consumed atomic.Bool
	stale    atomic.Bool
}

// ForEachFrame captures the page's current frames, main frame first.
func ForEachFrame(page browser.Page) *Snapshot {
	return &Snapshot{page: page, gen: page.Generation(), frames: page.Frames()}
}

// Len is the number of frames captured.
func (s *Snapshot) Len() int { return len(s.frames) }

// Stale reports whether iteration stopped because the page navigated.
func (s *Snapshot) Stale() bool { return s.stale.Load() }

// All yields the captured frames in order. Only the first call yields anything.
func (s *Snapshot) All() iter.Seq[browser.Frame] {
	return func(yield func(browser.Frame) bool) {
		if s.consumed.Swap(true) {
			return
		}
		for _, f := range s.frames {
			if s.page.Generation() != s.gen {
				s.stale.Store(true)
				return
			}
			if !yield(f) {
				return
			}
		}
	}
}

// Stabilizer is the part of the navigation controller frame traversal needs.
type Stabilizer interface {
	AwaitStable(ctx context.Context, target browser.Waitable, state browser.LoadState, timeout time.Duration) (browser.StabilizeOutcome, error)
}

// maxEnumerations bounds how often a traversal starts over after the page
// navigated underneath it.
const maxEnumerations = 3

// Traversal stabilizes every frame of a page in order.
type Traversal struct {
	stabilizer Stabilizer
	state      browser.LoadState
	logger     *zap.Logger
}

func NewTraversal(stabilizer Stabilizer, state browser.LoadState, logger *zap.Logger) *Traversal {
	return &Traversal{stabilizer: stabilizer, state: state, logger: logger.Named("frames")}
}

// StabilizeAll waits for each frame in turn. A frame that does not stabilize in
// time is recorded and skipped. If the page navigates mid-walk the frames are
// enumerated again. Only cancellation of ctx is returned as an error.
func (t *Traversal) StabilizeAll(ctx context.Context, page browser.Page, timeout time.Duration) ([]browser.StabilizeOutcome, error) {
	ctx, span := observability.StartSpan(ctx, "frames.stabilize")
	var outcomes []browser.StabilizeOutcome
	for i := 0; i < maxEnumerations; i++ {
		snap := ForEachFrame(page)
		for f := range snap.All() {
			out, err := t.stabilizer.AwaitStable(ctx, f, t.state, timeout)
			if err != nil {
				observability.EndSpan(span, err)
				return outcomes, err
			}
			if !out.OK() {
				t.logger.Debug("Frame did not stabilize; skipping.",
					zap.String("frame", f.Name()), zap.String("url", f.URL()), zap.Bool("main", f.IsMain()))
			}
			outcomes = append(outcomes, out)
		}
		if !snap.Stale() {
			break
		}
		t.logger.Debug("Page navigated during frame traversal; re-enumerating.")
	}
	observability.EndSpan(span, nil)
	return outcomes, nil
}
