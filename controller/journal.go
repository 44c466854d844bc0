package controller

import (
	"context"
	"time"
)

// Journal records tending runs somewhere outside of this process
type Journal interface {
	Start(ctx context.Context, id string, startedAt time.Time) error
	AddEvent(ctx context.Context, note string, now time.Time) error
	Done(ctx context.Context, outcome string, now time.Time) error
}

type noopJournal struct{}

var _ Journal = noopJournal{}

// Start implements Journal.
func (noopJournal) Start(ctx context.Context, id string, startedAt time.Time) error {
	return nil
}

// AddEvent implements Journal.
func (noopJournal) AddEvent(ctx context.Context, note string, now time.Time) error {
	return nil
}

// Done implements Journal.
func (noopJournal) Done(ctx context.Context, outcome string, now time.Time) error {
	return nil
}
