// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errSlotEmpty = errors.New("slot not yet populated")

// Slot is a single-assignment cell. It starts empty, may be populated
// exactly once and never changes afterwards.
type Slot[T any] struct {
	v atomic.Pointer[T]
}

// Set populates the slot. It returns false if the slot already holds a value,
// in which case the stored value is left untouched.
func (s *Slot[T]) Set(v T) bool {
	return s.v.CompareAndSwap(nil, &v)
}

// Get returns the stored value. ok is false while the slot is empty.
func (s *Slot[T]) Get() (v T, ok bool) {
	p := s.v.Load()
	if p == nil {
		return v, false
	}
	return *p, true
}

// Wait polls the slot with exponential backoff until it is populated or ctx
// is done. Callers bound the wait through ctx.
func (s *Slot[T]) Wait(ctx context.Context) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0

	return backoff.RetryWithData(func() (T, error) {
		if v, ok := s.Get(); ok {
			return v, nil
		}
		var zero T
		return zero, errSlotEmpty
	}, backoff.WithContext(b, ctx))
}
