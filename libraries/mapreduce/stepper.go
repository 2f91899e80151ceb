// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package mapreduce

import (
	"context"
)

// Stepper hands control back to the caller at every chunk boundary. The
// build parks until Resume or Abort is called. Use Stepper.Progress as the
// ProgressFunc of a build running on another goroutine.
type Stepper struct {
	pending chan Progress
	resume  chan error
}

func NewStepper() *Stepper {
	return &Stepper{
		pending: make(chan Progress),
		resume:  make(chan error),
	}
}

// Pending delivers the progress of each parked build.
func (s *Stepper) Pending() <-chan Progress {
	return s.pending
}

// Resume lets the parked build continue with its next chunk.
func (s *Stepper) Resume() {
	s.resume <- nil
}

// Abort ends the parked build; |err| is returned to the view caller.
func (s *Stepper) Abort(err error) {
	s.resume <- err
}

func (s *Stepper) Progress(ctx context.Context, p Progress) error {
	select {
	case s.pending <- p:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-s.resume:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
