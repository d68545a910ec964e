// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package asyncipc

import (
	"context"
	"time"

	"github.com/jacobsa/reqtrace"

	"github.com/BohdanQQ/helenos/asynctime"
	"github.com/BohdanQQ/helenos/kernel"
	"github.com/BohdanQQ/helenos/kernerr"
)

// Send issues an async kernel call and returns the id the caller will
// later pass to WaitFor or WaitTimeout, implementing spec.md §4.3's send.
//
// Send may be called either from a fiber scheduled on m's own
// fiber.Scheduler (a connection handler, typically) or from an ordinary
// goroutine acting as a synchronous client; WaitFor/WaitTimeout handle
// both the same way a real HelenOS program's main thread is itself just
// another pseudo-thread.
func (m *Manager) Send(phone kernel.PhoneID, method kernel.Method, a1, a2 uint64) kernel.CallID {
	return m.sendCall(phone, kernel.Call{Method: method, Arg1: a1, Arg2: a2})
}

// Connect issues an IPC_M_CONNECT_ME_TO call to open a new connection on
// phone, advertising hash as the phone hash the remote side's connection
// router should key the new Connection by (spec.md §4.4's new_connection
// reads this from Arg3). The returned id is passed to WaitFor/WaitTimeout
// exactly like any other Send.
func (m *Manager) Connect(phone kernel.PhoneID, hash uint64) kernel.CallID {
	return m.sendCall(phone, kernel.Call{Method: kernel.MethodConnectMeTo, Arg3: hash})
}

func (m *Manager) sendCall(phone kernel.PhoneID, call kernel.Call) kernel.CallID {
	msg := &OutMsg{owner: m.sched.Current(), active: true}
	if reqtrace.Enabled() {
		msg.traceCtx, msg.traceReport = reqtrace.Trace(context.Background(), "asyncipc.call")
	}

	id := m.transport.CallAsync(phone, call, msg, m.replyReceived)
	msg.id = id

	m.mu.Lock()
	m.outstanding[id] = msg
	m.mu.Unlock()
	return id
}

// replyReceived is the kernel.AnswerCallback passed to CallAsync. It may
// run on an arbitrary goroutine (whichever one called AnswerFast on the
// peer side of the transport), so it takes the async lock itself rather
// than assuming it is already held, exactly as spec.md §4.3 specifies.
func (m *Manager) replyReceived(cookie any, retval int32, answer kernel.Call) {
	msg := cookie.(*OutMsg)

	m.mu.Lock()
	msg.retval = retval
	msg.answer = answer
	msg.done = true
	if msg.inTimeoutList {
		m.timeouts.Remove(msg.elem)
		msg.inTimeoutList = false
	}

	if msg.tombstoned {
		// A timed-out wait already gave up on this message; this is the
		// late reply spec.md §9 says to discard quietly.
		delete(m.outstanding, msg.id)
		m.mu.Unlock()
		return
	}

	if msg.owner == 0 {
		ch := msg.waitCh
		m.mu.Unlock()
		if ch != nil {
			close(ch)
		}
		return
	}

	if !msg.active {
		msg.active = true
		m.sched.AddReady(msg.owner)
	}
	m.mu.Unlock()
}

// WaitFor blocks the calling fiber (or goroutine) until id's reply
// arrives, implementing spec.md §4.3's wait_for.
func (m *Manager) WaitFor(id kernel.CallID) (int32, kernel.Call, error) {
	return m.wait(id, false, 0)
}

// WaitTimeout is WaitFor bounded by usecTimeout microseconds, returning
// kernerr.ErrTimeout if the deadline passes first (spec.md §4.3's
// wait_timeout). A timed-out message is tombstoned rather than removed:
// see spec.md §9's resolution of the "does wait_timeout free the OutMsg"
// open question.
func (m *Manager) WaitTimeout(id kernel.CallID, usecTimeout int64) (int32, kernel.Call, error) {
	return m.wait(id, true, usecTimeout)
}

func (m *Manager) wait(id kernel.CallID, hasTimeout bool, usecTimeout int64) (retval int32, answer kernel.Call, err error) {
	m.mu.Lock()
	msg, ok := m.outstanding[id]
	if !ok {
		m.mu.Unlock()
		return 0, kernel.Call{}, kernerr.ErrNoEnt
	}

	if msg.traceCtx != nil {
		var span reqtrace.ReportFunc
		_, span = reqtrace.StartSpan(msg.traceCtx, "asyncipc.wait")
		defer func() { span(err) }()
	}

	if msg.done {
		delete(m.outstanding, id)
		m.mu.Unlock()
		if msg.traceReport != nil {
			msg.traceReport(nil)
		}
		return msg.retval, msg.answer, nil
	}

	owner := m.sched.Current()
	msg.owner = owner
	msg.active = false

	var ch chan struct{}
	if owner == 0 {
		ch = make(chan struct{})
		msg.waitCh = ch
	}

	if hasTimeout {
		msg.hasTimeout = true
		msg.deadline = asynctime.Now(m.clock).AddMicroseconds(usecTimeout)
		msg.elem = m.timeouts.Insert(msg)
		msg.inTimeoutList = true
	} else {
		msg.hasTimeout = false
	}
	m.mu.Unlock()

	if owner == 0 {
		// A plain goroutine has no TaskID the scheduler's AddReady can wake,
		// and — unlike a fiber's wait, which always resumes the manager
		// loop that re-derives its kernel_wait deadline from m.timeouts on
		// every iteration — the manager may already be blocked in a kernel
		// wait with no timeout of its own when this deadline is inserted.
		// Arm a local timer rather than depend on sweepExpired ever running.
		if hasTimeout {
			timer := time.NewTimer(time.Duration(usecTimeout) * time.Microsecond)
			defer timer.Stop()
			select {
			case <-ch:
			case <-timer.C:
			}
		} else {
			<-ch
		}
	} else {
		m.sched.YieldToManager(owner)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !msg.done {
		// Either sweepExpired woke us (the in-fiber path) or our own local
		// timer fired first (the owner == 0 path); in both cases the
		// deadline may still be in the timeout list.
		if msg.inTimeoutList {
			m.timeouts.Remove(msg.elem)
			msg.inTimeoutList = false
		}
		msg.tombstoned = true
		err = kernerr.ErrTimeout
		if msg.traceReport != nil {
			msg.traceReport(err)
		}
		return 0, kernel.Call{}, err
	}
	delete(m.outstanding, id)
	if msg.traceReport != nil {
		msg.traceReport(nil)
	}
	return msg.retval, msg.answer, nil
}

// sweepExpired drains every timeout that has passed and wakes its
// waiter, implementing spec.md §4.2's sweep_expired.
func (m *Manager) sweepExpired() {
	m.mu.Lock()
	now := asynctime.Now(m.clock)
	expired := m.timeouts.Sweep(now)
	for _, e := range expired {
		msg := e.(*OutMsg)
		msg.inTimeoutList = false
		if msg.done {
			continue
		}
		if msg.owner == 0 {
			ch := msg.waitCh
			if ch != nil {
				close(ch)
			}
			continue
		}
		if !msg.active {
			msg.active = true
			m.sched.AddReady(msg.owner)
		}
	}
	m.mu.Unlock()
}
