package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/calvinmclean/autotend"
	"github.com/calvinmclean/autotend/mechanism"
	"github.com/calvinmclean/autotend/metrics"
	"github.com/calvinmclean/autotend/signalmerge"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSettleInterval = 200 * time.Microsecond
	journalQueueSize      = 32
	journalTimeout        = 5 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Execute unless the machine is Idle
	ErrAlreadyRunning = errors.New("tending is already running")
	ErrNoRun          = errors.New("tending has not been executed")
	ErrClosed         = errors.New("tending service is closed")
)

// Movement is the two-axis mechanism that follows the tending path
type Movement interface {
	Name() string
	SetPaths([]mechanism.Point) error
	Start() error
	Stop()
	Events() <-chan mechanism.Event
	Close()
}

// Rotation is the rotating mechanism. Finish is called when Movement finishes
type Rotation interface {
	Name() string
	Start() error
	Stop()
	Finish()
	Events() <-chan mechanism.Event
	Close()
}

// Observer is notified of progress and machine state changes. It is called from the
// service's own goroutines and must not block
type Observer interface {
	Progress(mechanism string, progress float64)
	MachineState(autotend.MachineState)
}

type Outcome string

const (
	OutcomeFinished Outcome = "finished"
	OutcomeStopped  Outcome = "stopped"
)

// Options configure a TendingService
type Options struct {
	Path []mechanism.Point
	// StartDelay is waited before anything moves
	StartDelay time.Duration
	// SettleInterval is waited between starting Rotation and starting Movement
	SettleInterval time.Duration
	Journal        Journal
}

type run struct {
	id      string
	started time.Time
	logger  *zap.Logger
	done    chan struct{}

	// protected by TendingService.mtx
	stopRequested bool
	err           error

	// written before done is closed
	outcome Outcome
}

// sources are one mechanism's connections to the three merges
type sources struct {
	stopped  *signalmerge.Source
	finished *signalmerge.Source
	settled  *signalmerge.Source
}

// TendingService runs Rotation and Movement together as one tending operation and returns
// the machine to Idle once both have reached a terminal state
type TendingService struct {
	state    *autotend.State
	movement Movement
	rotation Rotation
	opts     Options
	logger   *zap.Logger

	// stopped and finished fire when both mechanisms stopped or both finished. settled fires
	// when both reached any terminal state and is what ends a run
	stopped  *signalmerge.Merge
	finished *signalmerge.Merge
	settled  *signalmerge.Merge
	sources  map[string]sources

	mtx       sync.Mutex
	run       *run
	observers []Observer
	closed    bool

	journalMtx    sync.RWMutex
	journalClosed bool
	journalQueue  chan func(context.Context) error
	closing      chan struct{}
	closeOnce    sync.Once
	forwarders   sync.WaitGroup
	control      sync.WaitGroup
	journalWG    sync.WaitGroup
}

func New(state *autotend.State, movement Movement, rotation Rotation, opts Options, logger *zap.Logger) (*TendingService, error) {
	if state == nil || movement == nil || rotation == nil {
		return nil, errors.New("state, movement, and rotation are required")
	}
	if opts.SettleInterval == 0 {
		opts.SettleInterval = defaultSettleInterval
	}
	if opts.Journal == nil {
		opts.Journal = noopJournal{}
	}

	s := &TendingService{
		state:        state,
		movement:     movement,
		rotation:     rotation,
		opts:         opts,
		logger:       logger,
		stopped:      signalmerge.New(2),
		finished:     signalmerge.New(2),
		settled:      signalmerge.New(2),
		sources:      map[string]sources{},
		journalQueue: make(chan func(context.Context) error, journalQueueSize),
		closing:      make(chan struct{}),
	}

	for _, name := range []string{movement.Name(), rotation.Name()} {
		var src sources
		var err error
		src.stopped, err = s.stopped.Connect(name)
		if err != nil {
			return nil, fmt.Errorf("error connecting %s: %w", name, err)
		}
		src.finished, err = s.finished.Connect(name)
		if err != nil {
			return nil, fmt.Errorf("error connecting %s: %w", name, err)
		}
		src.settled, err = s.settled.Connect(name)
		if err != nil {
			return nil, fmt.Errorf("error connecting %s: %w", name, err)
		}
		s.sources[name] = src
	}

	s.forwarders.Add(2)
	go s.forward(movement.Name(), movement.Events(), rotation.Stop, rotation.Finish)
	go s.forward(rotation.Name(), rotation.Events(), movement.Stop, nil)

	s.control.Add(1)
	go s.controlLoop()

	s.journalWG.Add(1)
	go s.journalWorker()

	metrics.SetMachineState(state.Current())

	return s, nil
}

// State is the machine state shared with the rest of the process
func (s *TendingService) State() *autotend.State {
	return s.state
}

func (s *TendingService) Subscribe(o Observer) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.observers = append(s.observers, o)
}

// Execute starts a tending run: Rotation first, then Movement after the settle interval. It
// returns once both are started. Use Wait for the result
func (s *TendingService) Execute(ctx context.Context) error {
	r := &run{
		id:      uuid.NewString(),
		started: time.Now(),
		done:    make(chan struct{}),
	}
	r.logger = s.logger.With(zap.String("run", r.id))

	// the run is published under the same lock as the transition so Stop always sees it
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return ErrClosed
	}
	if !s.state.CompareAndSwap(autotend.MachineStateIdle, autotend.MachineStateTending) {
		s.mtx.Unlock()
		return ErrAlreadyRunning
	}
	s.stopped.Reset()
	s.finished.Reset()
	s.settled.Reset()
	s.run = r
	s.mtx.Unlock()

	metrics.SetMachineState(autotend.MachineStateTending)
	s.notifyState(autotend.MachineStateTending)
	r.logger.Info("tending started", zap.Int("points", len(s.opts.Path)))
	s.enqueueJournal(func(ctx context.Context) error {
		return s.opts.Journal.Start(ctx, r.id, r.started)
	})

	err := s.movement.SetPaths(s.opts.Path)
	if err != nil {
		s.startFailed(r, s.movement.Name(), s.rotation.Name())
		return fmt.Errorf("error setting movement paths: %w", err)
	}

	err = sleep(ctx, s.opts.StartDelay)
	if err != nil {
		s.startFailed(r, s.movement.Name(), s.rotation.Name())
		return err
	}

	started, err := s.startIfNotStopped(r, s.rotation.Start)
	if !started {
		s.startFailed(r, s.movement.Name(), s.rotation.Name())
		if err != nil {
			return fmt.Errorf("error starting rotation: %w", err)
		}
		return nil
	}

	err = sleep(ctx, s.opts.SettleInterval)
	if err != nil {
		s.stopRun()
		s.startFailed(r, s.movement.Name())
		return err
	}

	started, err = s.startIfNotStopped(r, s.movement.Start)
	if !started {
		s.rotation.Stop()
		s.startFailed(r, s.movement.Name())
		if err != nil {
			return fmt.Errorf("error starting movement: %w", err)
		}
	}

	return nil
}

// startIfNotStopped runs start unless Stop was called during this run
func (s *TendingService) startIfNotStopped(r *run, start func() error) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		r.stopRequested = true
		if r.err == nil {
			r.err = ErrClosed
		}
		return false, ErrClosed
	}
	if r.stopRequested {
		return false, nil
	}
	err := start()
	if err != nil {
		r.stopRequested = true
		if r.err == nil {
			r.err = err
		}
		return false, err
	}
	return true, nil
}

// startFailed reports mechanisms that were never started as stopped so the run still settles
func (s *TendingService) startFailed(r *run, names ...string) {
	s.mtx.Lock()
	r.stopRequested = true
	s.mtx.Unlock()

	for _, name := range names {
		src := s.sources[name]
		src.stopped.Report()
		src.settled.Report()
	}
}

// Stop asks both mechanisms to stop. It does nothing when the machine is Idle
func (s *TendingService) Stop() {
	if s.state.Current() != autotend.MachineStateTending {
		s.logger.Debug("stop ignored while idle")
		return
	}
	s.logger.Info("stop requested")
	s.stopRun()
}

func (s *TendingService) stopRun() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.run != nil {
		s.run.stopRequested = true
	}
	s.movement.Stop()
	s.rotation.Stop()
}

// Wait blocks until the latest run settles and returns how it ended. The error is the
// device error that stopped it, if any
func (s *TendingService) Wait(ctx context.Context) (Outcome, error) {
	s.mtx.Lock()
	r := s.run
	s.mtx.Unlock()

	if r == nil {
		return "", ErrNoRun
	}

	select {
	case <-r.done:
		s.mtx.Lock()
		defer s.mtx.Unlock()
		return r.outcome, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// forward relays one mechanism's events. onFinished is called when the mechanism finishes
// and stopPeer when it stops, so a fault in one mechanism stops the other
func (s *TendingService) forward(name string, events <-chan mechanism.Event, stopPeer, onFinished func()) {
	defer s.forwarders.Done()

	src := s.sources[name]
	for ev := range events {
		s.notifyProgress(ev.Mechanism, ev.Progress)

		switch ev.Kind {
		case mechanism.EventFinished:
			src.finished.Report()
			if onFinished != nil {
				onFinished()
			}
			s.journalEvent(name + " finished")
			src.settled.Report()
		case mechanism.EventStopped:
			src.stopped.Report()
			s.mtx.Lock()
			if s.run != nil {
				s.run.stopRequested = true
				if ev.Err != nil && s.run.err == nil {
					s.run.err = ev.Err
				}
			}
			s.mtx.Unlock()
			stopPeer()
			note := name + " stopped"
			if ev.Err != nil {
				note += ": " + ev.Err.Error()
			}
			s.journalEvent(note)
			src.settled.Report()
		}
	}
}

func (s *TendingService) controlLoop() {
	defer s.control.Done()
	for {
		select {
		case <-s.settled.Merged():
			s.onSettled()
		case <-s.closing:
			select {
			case <-s.settled.Merged():
				s.onSettled()
			default:
			}
			return
		}
	}
}

// onSettled runs once per run after both mechanisms reached a terminal state
func (s *TendingService) onSettled() {
	if s.finished.Fired() {
		s.onFinish()
		return
	}
	s.onStopped()
}

func (s *TendingService) onFinish() {
	r := s.currentRun()
	r.logger.Info("tending finished", zap.Duration("duration", time.Since(r.started)))
	s.complete(r, OutcomeFinished)
}

// onStopped also covers runs where one mechanism finished and the other stopped
func (s *TendingService) onStopped() {
	r := s.currentRun()

	s.mtx.Lock()
	err := r.err
	s.mtx.Unlock()

	fields := []zap.Field{
		zap.Duration("duration", time.Since(r.started)),
		zap.Bool("partial", !s.stopped.Fired()),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Warn("tending stopped", fields...)

	s.complete(r, OutcomeStopped)
}

func (s *TendingService) complete(r *run, outcome Outcome) {
	now := time.Now()

	s.enqueueJournal(func(ctx context.Context) error {
		return s.opts.Journal.Done(ctx, string(outcome), now)
	})
	metrics.ObserveRun(string(outcome), now.Sub(r.started))

	s.state.Set(autotend.MachineStateIdle)
	metrics.SetMachineState(autotend.MachineStateIdle)
	s.notifyState(autotend.MachineStateIdle)

	s.mtx.Lock()
	r.outcome = outcome
	s.mtx.Unlock()
	close(r.done)
}

func (s *TendingService) currentRun() *run {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.run
}

func (s *TendingService) notifyProgress(name string, progress float64) {
	for _, o := range s.observerList() {
		o.Progress(name, progress)
	}
}

func (s *TendingService) notifyState(state autotend.MachineState) {
	for _, o := range s.observerList() {
		o.MachineState(state)
	}
}

func (s *TendingService) observerList() []Observer {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]Observer(nil), s.observers...)
}

func (s *TendingService) journalEvent(note string) {
	now := time.Now()
	s.enqueueJournal(func(ctx context.Context) error {
		return s.opts.Journal.AddEvent(ctx, note, now)
	})
}

func (s *TendingService) enqueueJournal(f func(context.Context) error) {
	s.journalMtx.RLock()
	defer s.journalMtx.RUnlock()

	if s.journalClosed {
		return
	}

	select {
	case s.journalQueue <- f:
	default:
		s.logger.Warn("journal queue is full, dropping update")
	}
}

func (s *TendingService) journalWorker() {
	defer s.journalWG.Done()
	for f := range s.journalQueue {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		err := f(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("error updating journal", zap.Error(err))
		}
	}
}

// Close stops any run in progress and shuts down the mechanisms and background goroutines.
// Execute returns ErrClosed afterwards
func (s *TendingService) Close() {
	s.closeOnce.Do(func() {
		s.mtx.Lock()
		s.closed = true
		s.mtx.Unlock()

		s.Stop()
		s.movement.Close()
		s.rotation.Close()
		s.forwarders.Wait()

		close(s.closing)
		s.control.Wait()

		s.journalMtx.Lock()
		s.journalClosed = true
		close(s.journalQueue)
		s.journalMtx.Unlock()
		s.journalWG.Wait()
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
