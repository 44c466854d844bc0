package mechanism

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// State is the run state of a mechanism
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateStopped  State = "stopped"
)

const (
	eventStart  = "start"
	eventFinish = "finish"
	eventStop   = "stop"
	eventReset  = "reset"

	eventBufferSize = 64
)

// ErrBusy is returned when something that is only allowed between runs is attempted while running
var ErrBusy = errors.New("mechanism is running")

// lifecycle is shared by every mechanism: the state machine, the outbound event channel,
// and the stop flag that the run loop checks between units of work
type lifecycle struct {
	name   string
	logger *zap.Logger
	fsm    *fsm.FSM

	events    chan Event
	closeOnce sync.Once
	wg        sync.WaitGroup

	// mtx serializes Start with the setters that are only allowed between runs
	mtx sync.Mutex

	stopRequested atomic.Bool
	progress      atomic.Uint64
}

func newLifecycle(name string, logger *zap.Logger) *lifecycle {
	l := &lifecycle{
		name:   name,
		logger: logger,
		events: make(chan Event, eventBufferSize),
	}

	l.fsm = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StateIdle)}, Dst: string(StateRunning)},
			{Name: eventFinish, Src: []string{string(StateRunning)}, Dst: string(StateFinished)},
			{Name: eventStop, Src: []string{string(StateRunning)}, Dst: string(StateStopped)},
			{Name: eventReset, Src: []string{string(StateFinished), string(StateStopped)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.logger.Debug("state transition", zap.String("from", e.Src), zap.String("to", e.Dst))
			},
		},
	)

	return l
}

func (l *lifecycle) Name() string {
	return l.name
}

func (l *lifecycle) State() State {
	return State(l.fsm.Current())
}

// Events is the outbound channel for progress and terminal events. It must be drained by
// the owner and is closed by Close
func (l *lifecycle) Events() <-chan Event {
	return l.events
}

// Progress is the fraction of the current run that has completed
func (l *lifecycle) Progress() float64 {
	return float64(l.progress.Load()) / progressScale
}

// Stop requests the run loop to stop at the next opportunity. It does nothing unless running
func (l *lifecycle) Stop() {
	if l.State() == StateRunning {
		l.stopRequested.Store(true)
	}
}

// Close stops any current run, waits for it to exit, and closes the event channel
func (l *lifecycle) Close() {
	l.Stop()
	l.wg.Wait()
	l.closeOnce.Do(func() {
		close(l.events)
	})
}

// begin moves a mechanism that is idle or in a terminal state into running. Callers hold mtx
func (l *lifecycle) begin() error {
	switch l.State() {
	case StateRunning:
		return ErrBusy
	case StateFinished, StateStopped:
		err := l.fsm.Event(context.Background(), eventReset)
		if err != nil {
			return err
		}
	}

	l.stopRequested.Store(false)
	l.setProgress(0)

	return l.fsm.Event(context.Background(), eventStart)
}

// idle returns ErrBusy while a run is in progress
func (l *lifecycle) idle() error {
	if l.State() == StateRunning {
		return ErrBusy
	}
	return nil
}

func (l *lifecycle) setProgress(p float64) {
	l.progress.Store(uint64(p * progressScale))
}

func (l *lifecycle) emitProgress() {
	l.events <- Event{Mechanism: l.name, Kind: EventProgress, Progress: l.Progress()}
}

// finish emits Finished. It does nothing if this run already reached a terminal state
func (l *lifecycle) finish() {
	if l.fsm.Event(context.Background(), eventFinish) != nil {
		return
	}
	l.logger.Info("finished", zap.Float64("progress", l.Progress()))
	l.events <- Event{Mechanism: l.name, Kind: EventFinished, Progress: l.Progress()}
}

// stop emits Stopped with the error that caused it, if any. It does nothing if this run
// already reached a terminal state
func (l *lifecycle) stop(err error) {
	if l.fsm.Event(context.Background(), eventStop) != nil {
		return
	}
	if err != nil {
		logDeviceError(l.logger, l.name, err)
	} else {
		l.logger.Info("stopped", zap.Float64("progress", l.Progress()))
	}
	l.events <- Event{Mechanism: l.name, Kind: EventStopped, Progress: l.Progress(), Err: err}
}
