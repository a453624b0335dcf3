// Package ringbuf provides a fixed-capacity ring of recent candles per
// instrument. The trade manager keeps one Window per watched scrip so the
// entry gates (volume mean, engulfing pattern, pivot latch) can look back
// over the last N closed candles without unbounded growth.
package ringbuf

import "trade-enginev1/internal/model"

// Window is a bounded candle history. Appending beyond capacity overwrites
// the oldest candle. Not safe for concurrent use; callers synchronize
// (the trade manager mutates it under its exclusive lock).
type Window struct {
	buf   []model.Candle
	start int // index of the oldest candle
	n     int
}

// NewWindow creates a window holding at most capacity candles.
func NewWindow(capacity int) *Window {
	if capacity < 2 {
		capacity = 2
	}
	return &Window{buf: make([]model.Candle, capacity)}
}

// Append adds a candle, evicting the oldest when full.
func (w *Window) Append(c model.Candle) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = c
		w.n++
		return
	}
	w.buf[w.start] = c
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of stored candles.
func (w *Window) Len() int { return w.n }

// At returns the i-th candle, 0 = oldest.
func (w *Window) At(i int) (model.Candle, bool) {
	if i < 0 || i >= w.n {
		return model.Candle{}, false
	}
	return w.buf[(w.start+i)%len(w.buf)], true
}

// Last returns the newest candle.
func (w *Window) Last() (model.Candle, bool) {
	return w.At(w.n - 1)
}

// Prior returns the candle before the newest (the "previous candle" of a
// two-candle pattern).
func (w *Window) Prior() (model.Candle, bool) {
	return w.At(w.n - 2)
}

// Snapshot copies the stored candles oldest-first.
func (w *Window) Snapshot() []model.Candle {
	out := make([]model.Candle, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// MeanVolumeExcludingLast averages the volume of all candles except the
// newest one. Returns 0 when fewer than two candles are stored.
func (w *Window) MeanVolumeExcludingLast() float64 {
	if w.n < 2 {
		return 0
	}
	var sum int64
	for i := 0; i < w.n-1; i++ {
		c, _ := w.At(i)
		sum += c.Volume
	}
	return float64(sum) / float64(w.n-1)
}
