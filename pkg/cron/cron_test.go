// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cron

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestCronRegister(t *testing.T) {
	cron := NewCron(10 * time.Millisecond)
	defer cron.Stop()

	if err := cron.Register("too-fast", func() {}, time.Millisecond); err == nil {
		t.Fatal("registering a job faster than the resolution succeeded")
	}

	if err := cron.Register("job", func() {}, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := cron.Register("job", func() {}, 20*time.Millisecond); err == nil {
		t.Fatal("registering a job twice succeeded")
	}

	if jobs := cron.Jobs(); len(jobs) != 1 || jobs[0] != "job" {
		t.Fatalf("unexpected jobs %v", jobs)
	}

	cron.Unregister("job")
	if jobs := cron.Jobs(); len(jobs) != 0 {
		t.Fatalf("unexpected jobs %v", jobs)
	}
}

func TestCronExecution(t *testing.T) {
	var counter int32

	cron := NewCron(10 * time.Millisecond)
	if err := cron.Register("count", func() { atomic.AddInt32(&counter, 1) }, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	time.Sleep(250 * time.Millisecond)
	cron.Stop()
	cron.Stop()

	if n := atomic.LoadInt32(&counter); n < 3 {
		t.Fatalf("job was executed only %d times", n)
	}
}

func TestCronSkipsRunningJob(t *testing.T) {
	var running, maxRunning int32

	cron := NewCron(10 * time.Millisecond)
	defer cron.Stop()

	task := func() {
		n := atomic.AddInt32(&running, 1)
		if n > atomic.LoadInt32(&maxRunning) {
			atomic.StoreInt32(&maxRunning, n)
		}
		time.Sleep(100 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	}
	if err := cron.Register("slow", task, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)

	if n := atomic.LoadInt32(&maxRunning); n != 1 {
		t.Fatalf("job ran %d times concurrently", n)
	}
}
