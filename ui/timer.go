package ui

import (
	"fmt"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
)

const timerInitText = "00:00.0"

// timer shows the time since the current run started and freezes when it ends
type timer struct {
	mtx       sync.Mutex
	startTime time.Time
	running   bool
	text      *canvas.Text
	stop      chan struct{}
}

func newTimer() *timer {
	return &timer{
		text: canvas.NewText(timerInitText, nil),
		stop: make(chan struct{}),
	}
}

func (t *timer) Start(start time.Time) {
	t.mtx.Lock()
	t.startTime = start
	t.running = true
	t.mtx.Unlock()
}

func (t *timer) Pause() {
	t.mtx.Lock()
	t.running = false
	t.mtx.Unlock()
}

func (t *timer) Close() {
	close(t.stop)
}

func (t *timer) Go() {
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
			}

			t.mtx.Lock()
			running, start := t.running, t.startTime
			t.mtx.Unlock()
			if !running {
				continue
			}

			text := formatElapsed(time.Since(start))
			fyne.Do(func() {
				t.text.Text = text
				t.text.Refresh()
			})
		}
	}()
}

func formatElapsed(elapsed time.Duration) string {
	minutes := int(elapsed.Minutes())
	seconds := int(elapsed.Seconds()) % 60
	tenths := int(elapsed.Milliseconds()) % 1000 / 100
	return fmt.Sprintf("%02d:%02d.%d", minutes, seconds, tenths)
}
