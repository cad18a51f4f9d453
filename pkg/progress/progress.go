package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Monitor receives progress from long-running cache operations. Cancellation
// travels through context.Context; a Monitor only observes.
type Monitor interface {
	Begin(task string, total int)
	Worked(n int)
	Done()
}

// Nop is a Monitor that reports nothing.
type Nop struct{}

func (Nop) Begin(string, int) {}
func (Nop) Worked(int)        {}
func (Nop) Done()             {}

// OrNop lets callers pass a nil Monitor.
func OrNop(m Monitor) Monitor {
	if m == nil {
		return Nop{}
	}
	return m
}

type Bar struct {
	mu sync.Mutex
	*progressbar.ProgressBar
}

func NewBar(max int64, description string) *Bar {
	return &Bar{ProgressBar: newProgressBar(max, description)}
}

func newProgressBar(max int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
}

// Begin resets the bar for a new task.
func (b *Bar) Begin(task string, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ProgressBar = newProgressBar(int64(total), task)
}

// Worked is safe for concurrent refresh workers.
func (b *Bar) Worked(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ProgressBar == nil {
		return
	}
	_ = b.Add(n)
}

func (b *Bar) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ProgressBar == nil {
		return
	}
	_ = b.ProgressBar.Finish()
}
