// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package regsim

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu   sync.Mutex
	ops  []Operation
	fail bool
}

func (s *recordingSender) Send(op Operation) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	if s.fail {
		return 0, errors.New("link down")
	}
	return uint16(len(s.ops)), nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

func TestPollerPollOnce(t *testing.T) {
	sender := &recordingSender{}
	p := NewPoller(sender, time.Hour, ReadSingle(1), ReadMultiple(2, 3))
	p.PollOnce()
	if sender.count() != 2 {
		t.Fatalf("sent %d operations, expected 2", sender.count())
	}
	if sender.ops[1].Kind != OpReadMultiple || sender.ops[1].Count != 3 {
		t.Errorf("second operation %s", sender.ops[1])
	}
}

func TestPollerRepeatsUntilStopped(t *testing.T) {
	sender := &recordingSender{}
	p := NewPoller(sender, 10*time.Millisecond, ReadSingle(0))
	p.Start()
	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	p.Stop()
	n := sender.count()
	if n < 3 {
		t.Fatalf("polled %d times, expected at least 3", n)
	}
	time.Sleep(30 * time.Millisecond)
	if sender.count() != n {
		t.Errorf("poller kept sending after Stop")
	}
}

func TestPollerReportsErrors(t *testing.T) {
	sender := &recordingSender{fail: true}
	p := NewPoller(sender, time.Hour, WriteSingle(1, 2))
	var failed []Operation
	p.SetOnError(func(op Operation, err error) { failed = append(failed, op) })
	p.PollOnce()
	if len(failed) != 1 || failed[0].Kind != OpWriteSingle {
		t.Errorf("errors reported for %v", failed)
	}
}
