// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hashicorp/go-multierror"
)

// DefaultProbeTimeout bounds each Adapter's Connect during probing.
const DefaultProbeTimeout = 2 * time.Second

const (
	// DefaultRecoverInterval is the first pause before probing again after every Adapter failed.
	DefaultRecoverInterval = 500 * time.Millisecond

	// DefaultRecoverMaxInterval bounds the doubling pause between recovery probes.
	DefaultRecoverMaxInterval = 30 * time.Second
)

// ErrSelectorClosed is returned by a closed Selector.
var ErrSelectorClosed = errors.New("selector is closed")

// SelectorOptions configure a Selector.
type SelectorOptions struct {
	ProbeTimeout time.Duration

	// RecoverInterval and RecoverMaxInterval define the backoff of probing after a failover found no Adapter.
	RecoverInterval    time.Duration
	RecoverMaxInterval time.Duration
}

// SwitchFunc is called after the current Adapter changed. Both prev and next might be nil.
type SwitchFunc func(prev, next Adapter)

// Selector picks exactly one current Adapter by probing them in their priority order. The choice is cached until the
// current Adapter fails.
type Selector struct {
	adapters []Adapter
	opts     SelectorOptions

	mutex      sync.Mutex
	current    int
	healthy    []bool
	closed     bool
	recovering bool

	listeners []SwitchFunc

	stopSyn   chan struct{}
	recoverWg sync.WaitGroup
}

// NewSelector for the given Adapters, which are ordered by their Kind. Adapters of the same Kind keep their order.
func NewSelector(adapters []Adapter, opts SelectorOptions) *Selector {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.RecoverInterval <= 0 {
		opts.RecoverInterval = DefaultRecoverInterval
	}
	if opts.RecoverMaxInterval < opts.RecoverInterval {
		opts.RecoverMaxInterval = DefaultRecoverMaxInterval
		if opts.RecoverMaxInterval < opts.RecoverInterval {
			opts.RecoverMaxInterval = opts.RecoverInterval
		}
	}

	sorted := make([]Adapter, len(adapters))
	copy(sorted, adapters)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Kind() < sorted[j].Kind() })

	s := &Selector{
		adapters: sorted,
		opts:     opts,
		current:  -1,
		healthy:  make([]bool, len(sorted)),
		stopSyn:  make(chan struct{}),
	}

	for _, a := range sorted {
		a := a
		a.onFailure(func(err error) {
			log.WithFields(log.Fields{
				"transport": a.Kind(),
				"address":   a.Address(),
				"error":     err,
			}).Warn("Transport reported a failure")

			if _, foErr := s.Failover(context.Background(), a); foErr != nil {
				log.WithError(foErr).Error("Failover after transport failure errored")
			}
		})
	}

	return s
}

// Adapters returns all Adapters by their priority.
func (s *Selector) Adapters() []Adapter {
	adapters := make([]Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// OnSwitch registers a SwitchFunc.
func (s *Selector) OnSwitch(f SwitchFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.listeners = append(s.listeners, f)
}

func (s *Selector) notify(prev, next Adapter) {
	if prev == next {
		return
	}

	s.mutex.Lock()
	listeners := make([]SwitchFunc, len(s.listeners))
	copy(listeners, s.listeners)
	s.mutex.Unlock()

	for _, f := range listeners {
		f(prev, next)
	}
}

func (s *Selector) adapterAt(i int) Adapter {
	if i < 0 {
		return nil
	}
	return s.adapters[i]
}

func (s *Selector) indexOf(a Adapter) int {
	for i, b := range s.adapters {
		if a == b {
			return i
		}
	}
	return -1
}

// probe tries to connect the Adapters from the given index on, until the upper bound. The first connected Adapter
// becomes current. The caller must hold the mutex.
func (s *Selector) probe(ctx context.Context, from, until int) (Adapter, error) {
	var errs *multierror.Error

	for i := from; i < until; i++ {
		a := s.adapters[i]
		logger := log.WithFields(log.Fields{
			"transport": a.Kind(),
			"address":   a.Address(),
		})

		probeCtx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
		err := a.Connect(probeCtx)
		cancel()

		if err != nil {
			logger.WithError(err).Info("Transport probe failed")
			s.healthy[i] = false
			errs = multierror.Append(errs, err)
			continue
		}

		logger.Info("Transport probe succeeded")
		s.healthy[i] = true
		s.current = i
		return a, nil
	}

	if errs == nil {
		errs = multierror.Append(errs, fmt.Errorf("no adapter left to probe"))
	}
	return nil, fmt.Errorf("%w: %w", ErrNoTransportAvailable, errs.ErrorOrNil())
}

// Current returns the current Adapter. If there is none, all Adapters are probed by their priority.
func (s *Selector) Current(ctx context.Context) (Adapter, error) {
	s.mutex.Lock()

	if s.closed {
		s.mutex.Unlock()
		return nil, ErrSelectorClosed
	}
	if s.current >= 0 {
		a := s.adapters[s.current]
		s.mutex.Unlock()
		return a, nil
	}

	a, err := s.probe(ctx, 0, len(s.adapters))
	s.mutex.Unlock()

	if err == nil {
		s.notify(nil, a)
	}
	return a, err
}

// Failover replaces a failed Adapter. If the failed Adapter is not the current one, another caller already failed
// over and the current Adapter is returned. Otherwise the failed Adapter is closed and the probing continues with the
// next lower priority Adapters. If they are exhausted, there is no current Adapter until the next call to Current.
func (s *Selector) Failover(ctx context.Context, failed Adapter) (Adapter, error) {
	s.mutex.Lock()

	if s.closed {
		s.mutex.Unlock()
		return nil, ErrSelectorClosed
	}

	idx := s.indexOf(failed)
	if idx < 0 || idx != s.current {
		if s.current >= 0 {
			a := s.adapters[s.current]
			s.mutex.Unlock()
			return a, nil
		}

		a, err := s.probe(ctx, 0, len(s.adapters))
		if err != nil {
			s.startRecoveryLocked()
		}
		s.mutex.Unlock()
		if err == nil {
			s.notify(nil, a)
		}
		return a, err
	}

	log.WithFields(log.Fields{
		"transport": failed.Kind(),
		"address":   failed.Address(),
	}).Warn("Failing over from transport")

	s.healthy[idx] = false
	s.current = -1
	if err := failed.Close(); err != nil {
		log.WithError(err).Debug("Closing failed transport errored")
	}

	a, err := s.probe(ctx, idx+1, len(s.adapters))
	if err != nil {
		s.startRecoveryLocked()
	}
	s.mutex.Unlock()

	s.notify(failed, a)
	return a, err
}

// startRecoveryLocked starts probing in the background, unless this already happens. The caller must hold the mutex.
func (s *Selector) startRecoveryLocked() {
	if s.recovering || s.closed {
		return
	}
	s.recovering = true

	s.recoverWg.Add(1)
	go s.recover()
}

// recover retries all Adapters with a doubling pause until one becomes current or the Selector is closed. Afterwards,
// the SwitchFuncs are notified by Current.
func (s *Selector) recover() {
	defer s.recoverWg.Done()

	interval := s.opts.RecoverInterval
	for attempt := 1; ; attempt++ {
		select {
		case <-s.stopSyn:
			return
		case <-time.After(interval):
		}

		a, err := s.Current(context.Background())
		if errors.Is(err, ErrSelectorClosed) {
			return
		} else if err != nil {
			log.WithFields(log.Fields{
				"attempt": attempt,
				"error":   err,
			}).Info("Recovering a transport failed")

			if interval *= 2; interval > s.opts.RecoverMaxInterval {
				interval = s.opts.RecoverMaxInterval
			}
			continue
		}

		s.mutex.Lock()
		if s.current < 0 && !s.closed {
			// The recovered Adapter already failed again.
			s.mutex.Unlock()
			interval = s.opts.RecoverInterval
			continue
		}
		s.recovering = false
		s.mutex.Unlock()

		log.WithFields(log.Fields{
			"transport": a.Kind(),
			"address":   a.Address(),
			"attempt":   attempt,
		}).Info("Recovered a transport")
		return
	}
}

// Reprobe checks if an Adapter with a higher priority than the current one became available and switches to it.
func (s *Selector) Reprobe(ctx context.Context) (Adapter, error) {
	s.mutex.Lock()

	if s.closed {
		s.mutex.Unlock()
		return nil, ErrSelectorClosed
	}

	prevIdx := s.current
	prev := s.adapterAt(prevIdx)

	until := len(s.adapters)
	if prevIdx >= 0 {
		until = prevIdx
	}

	a, err := s.probe(ctx, 0, until)
	if err != nil {
		s.current = prevIdx
		s.mutex.Unlock()

		if prev != nil {
			return prev, nil
		}
		return nil, err
	}

	if prev != nil {
		if closeErr := prev.Close(); closeErr != nil {
			log.WithError(closeErr).Debug("Closing replaced transport errored")
		}
	}
	s.mutex.Unlock()

	s.notify(prev, a)
	return a, nil
}

// Healthy reports if an Adapter of the given Kind connected during its last probe.
func (s *Selector) Healthy(kind Kind) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, a := range s.adapters {
		if a.Kind() == kind && s.healthy[i] {
			return true
		}
	}
	return false
}

// Close all Adapters and stop a running recovery. The Selector must not be used afterwards.
func (s *Selector) Close() error {
	s.mutex.Lock()

	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopSyn)

	var errs *multierror.Error
	for _, a := range s.adapters {
		if err := a.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	s.current = -1
	s.mutex.Unlock()

	s.recoverWg.Wait()
	return errs.ErrorOrNil()
}
