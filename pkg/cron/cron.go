// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cron runs named jobs on fixed intervals, e.g., registry refreshes or store pruning.
package cron

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultResolution is the tick of a Cron created without an explicit resolution.
const DefaultResolution = time.Second

type cronjob struct {
	task      func()
	interval  time.Duration
	nextEvent time.Time
	running   bool
}

// Cron manages different jobs which require interval based execution.
type Cron struct {
	resolution time.Duration

	jobs  map[string]*cronjob
	mutex sync.Mutex

	stopSyn  chan struct{}
	stopAck  chan struct{}
	stopOnce sync.Once
}

// NewCron creates and starts an empty Cron instance. Jobs are checked once per resolution; a non-positive resolution
// results in the DefaultResolution.
func NewCron(resolution time.Duration) *Cron {
	if resolution <= 0 {
		resolution = DefaultResolution
	}

	cron := &Cron{
		resolution: resolution,
		jobs:       make(map[string]*cronjob),
		stopSyn:    make(chan struct{}),
		stopAck:    make(chan struct{}),
	}

	go cron.loop()

	return cron
}

func (cron *Cron) loop() {
	ticker := time.NewTicker(cron.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-cron.stopSyn:
			close(cron.stopAck)
			return

		case t := <-ticker.C:
			cron.fire(t)
		}
	}
}

func (cron *Cron) fire(t time.Time) {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	for name, job := range cron.jobs {
		if job.nextEvent.After(t) {
			continue
		}

		for !job.nextEvent.After(t) {
			job.nextEvent = job.nextEvent.Add(job.interval)
		}

		// A slow job is skipped instead of piling up.
		if job.running {
			log.WithField("job", name).Debug("Cron skipped still running job")
			continue
		}

		job.running = true
		go cron.run(name, job)

		log.WithFields(log.Fields{
			"job":        name,
			"interval":   job.interval,
			"next_event": job.nextEvent,
		}).Debug("Cron executed job")
	}
}

func (cron *Cron) run(name string, job *cronjob) {
	defer func() {
		cron.mutex.Lock()
		job.running = false
		cron.mutex.Unlock()

		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"job":   name,
				"panic": r,
			}).Warn("Cron job panicked")
		}
	}()

	job.task()
}

// Stop this Cron. Further calls are ignored.
func (cron *Cron) Stop() {
	cron.stopOnce.Do(func() {
		close(cron.stopSyn)
		<-cron.stopAck
	})
}

// Register a new task by its name, function and interval. The interval must be at least the Cron's resolution. The
// function will be executed in a new Goroutine and must be thread-safe.
func (cron *Cron) Register(name string, task func(), interval time.Duration) error {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	if _, exists := cron.jobs[name]; exists {
		return fmt.Errorf("a job named %s is already registered", name)
	}

	if interval < cron.resolution {
		return fmt.Errorf("given interval %v is shorter than the resolution %v", interval, cron.resolution)
	}

	cron.jobs[name] = &cronjob{
		task:      task,
		interval:  interval,
		nextEvent: time.Now().Add(interval),
	}

	return nil
}

// Unregister a task by its name.
func (cron *Cron) Unregister(name string) {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	delete(cron.jobs, name)
}

// Jobs returns the names of all registered jobs.
func (cron *Cron) Jobs() (names []string) {
	cron.mutex.Lock()
	defer cron.mutex.Unlock()

	for name := range cron.jobs {
		names = append(names, name)
	}
	return
}
