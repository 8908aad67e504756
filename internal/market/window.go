package market

import (
	"fmt"
	"sync"
	"time"
)

// Window holds a bounded, time-ordered sequence of recent bars for one
// symbol/timeframe. Appends are rejected when out of order; the oldest bar
// is evicted once capacity is reached.
type Window struct {
	capacity int
	bars     []Bar
}

// NewWindow creates a window with the given capacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 200 // Default lookback
	}
	return &Window{
		capacity: capacity,
		bars:     make([]Bar, 0, capacity),
	}
}

// Append adds a bar to the window, enforcing strict timestamp order.
func (w *Window) Append(bar Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}

	if n := len(w.bars); n > 0 {
		last := w.bars[n-1].Timestamp
		if bar.Timestamp.Equal(last) {
			return fmt.Errorf("%w: %s", ErrDuplicateBar, bar.Timestamp.Format(time.RFC3339))
		}
		if bar.Timestamp.Before(last) {
			return fmt.Errorf("%w: %s before %s", ErrOutOfOrderBar,
				bar.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339))
		}
	}

	if len(w.bars) == w.capacity {
		copy(w.bars, w.bars[1:])
		w.bars = w.bars[:w.capacity-1]
	}
	w.bars = append(w.bars, bar)
	return nil
}

// Bars returns a copy of the window contents, oldest first.
func (w *Window) Bars() []Bar {
	out := make([]Bar, len(w.bars))
	copy(out, w.bars)
	return out
}

// Last returns the most recent bar, or false when the window is empty.
func (w *Window) Last() (Bar, bool) {
	if len(w.bars) == 0 {
		return Bar{}, false
	}
	return w.bars[len(w.bars)-1], true
}

// Len returns the number of bars currently held.
func (w *Window) Len() int {
	return len(w.bars)
}

// WindowManager maintains per-symbol rolling bar windows. It is the leaf
// dependency for every detector: all pattern evaluation reads through it.
type WindowManager struct {
	mu       sync.RWMutex
	capacity int
	windows  map[string]*Window
}

// NewWindowManager creates a manager whose windows hold at most capacity bars.
func NewWindowManager(capacity int) *WindowManager {
	return &WindowManager{
		capacity: capacity,
		windows:  make(map[string]*Window),
	}
}

func windowKey(symbol string, tf Timeframe) string {
	return symbol + ":" + string(tf)
}

// Append routes a bar into its symbol/timeframe window.
func (m *WindowManager) Append(bar Bar) error {
	tf, err := ParseTimeframe(bar.Timeframe)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := windowKey(bar.Symbol, tf)
	w, ok := m.windows[key]
	if !ok {
		w = NewWindow(m.capacity)
		m.windows[key] = w
	}
	return w.Append(bar)
}

// Bars returns a copy of the window for a symbol/timeframe, oldest first.
func (m *WindowManager) Bars(symbol string, tf Timeframe) []Bar {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.windows[windowKey(symbol, tf)]
	if !ok {
		return nil
	}
	return w.Bars()
}

// LastBarTime returns the timestamp of the most recent bar for a
// symbol/timeframe, or false when no bars have been ingested.
func (m *WindowManager) LastBarTime(symbol string, tf Timeframe) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.windows[windowKey(symbol, tf)]
	if !ok {
		return time.Time{}, false
	}
	last, ok := w.Last()
	if !ok {
		return time.Time{}, false
	}
	return last.Timestamp, true
}

// Symbols returns every symbol/timeframe key with at least one bar.
func (m *WindowManager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.windows))
	for k := range m.windows {
		keys = append(keys, k)
	}
	return keys
}
