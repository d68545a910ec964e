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

	"github.com/jacobsa/reqtrace"

	"github.com/BohdanQQ/helenos/kernel"
	"github.com/BohdanQQ/helenos/kernerr"
)

// routeCall implements spec.md §4.4's route_call: looks the connection up
// by incoming-phone-hash, queues the call, and wakes the connection's
// fiber if it was idle. Returns false if no connection owns this hash, in
// which case the manager loop falls back to its default dispatch.
//
// ctx is dispatch's own span, not a context carried over the wire from
// whatever sent the call: kernel.Call has no tracing field, so a route_call
// span only ever correlates with the manager loop iteration that produced
// it, not with the remote Send/WaitFor that is, from this side, opaque.
func (m *Manager) routeCall(ctx context.Context, callid kernel.CallID, call kernel.Call) bool {
	if reqtrace.Enabled() {
		var span reqtrace.ReportFunc
		_, span = reqtrace.StartSpan(ctx, "asyncipc.routeCall")
		defer span(nil)
	}

	m.mu.Lock()
	conn := m.conns.get(call.InPhoneHash)
	if conn == nil {
		m.mu.Unlock()
		return false
	}
	conn.fifo.PushBack(&InMsg{CallID: callid, Call: call})
	if !conn.active {
		conn.active = true
		m.sched.AddReady(conn.fiberID)
	}
	m.mu.Unlock()
	return true
}

// newConnection implements spec.md §4.4's new_connection: it registers the
// Connection under the hash carried in Arg3 of the connecting call, then
// spawns and readies a fiber to run handler (or the manager's default
// handler). If the hash is already taken — which should not happen given a
// well-behaved kernel, but is the Go analog of spec.md's "on allocation
// failure, reply ENOMEM to the opener" — the connection is refused before
// any fiber is spawned, instead of silently clobbering the existing one or
// leaving an un-readied fiber goroutine parked on <-t.resume forever.
func (m *Manager) newConnection(callid kernel.CallID, call kernel.Call, handler ConnHandler) {
	conn := &Connection{
		hash:          call.Arg3,
		handler:       handler,
		active:        true,
		initialCallID: callid,
		initialCall:   call,
	}

	m.mu.Lock()
	if existing := m.conns.get(conn.hash); existing != nil {
		m.mu.Unlock()
		m.transport.AnswerFast(callid, int32(kernerr.ENOMEM), 0, 0)
		return
	}
	m.conns.insert(conn)
	m.mu.Unlock()

	conn.fiberID = m.sched.Spawn(func(arg any) {
		m.connectionFiber(arg.(*Connection))
	}, conn)
	m.sched.AddReady(conn.fiberID)
}

// connectionFiber is the body every connection's fiber runs: invoke the
// handler with the call that created the connection, then — once the
// handler returns, meaning the connection is being torn down — drain any
// calls still queued on the FIFO with EHANGUP before removing the
// connection from the table, matching spec.md §4.4's teardown sequence.
func (m *Manager) connectionFiber(conn *Connection) {
	m.sched.SetLocal(conn.fiberID, conn)

	handler := conn.handler
	if handler == nil {
		handler = m.defaultHandler
	}
	ctx := &ConnCtx{mgr: m, conn: conn}
	handler(ctx, conn.initialCallID, conn.initialCall)

	m.mu.Lock()
	for conn.fifo.Len() > 0 {
		front := conn.fifo.Front()
		im := conn.fifo.Remove(front).(*InMsg)
		m.mu.Unlock()
		m.transport.AnswerFast(im.CallID, int32(kernerr.EHANGUP), 0, 0)
		m.mu.Lock()
	}
	m.conns.remove(conn.hash)
	m.mu.Unlock()
}

// getCall implements spec.md §4.4's get_call: pop the next queued call,
// blocking the connection's fiber (by yielding to the manager) if none is
// queued yet. The invariant that the FIFO is non-empty on resume is
// maintained by routeCall, which only wakes an idle connection after
// pushing a message onto it.
func (m *Manager) getCall(conn *Connection) (kernel.CallID, kernel.Call) {
	m.mu.Lock()
	if conn.fifo.Len() == 0 {
		conn.active = false
		m.mu.Unlock()
		m.sched.YieldToManager(conn.fiberID)
		m.mu.Lock()
	}
	front := conn.fifo.Front()
	im := conn.fifo.Remove(front).(*InMsg)
	m.mu.Unlock()
	return im.CallID, im.Call
}

// reply implements spec.md §4.4's reply shim: a thin wrapper over
// ipc_answer_fast (kernel.Transport.AnswerFast).
func (m *Manager) reply(callid kernel.CallID, retval int32, r1, r2 uint64) error {
	return m.transport.AnswerFast(callid, retval, r1, r2)
}

// DefaultHandler answers ENOENT to the call that opened the connection
// and returns immediately, per spec.md §4.4: "a protocol service
// overrides the default handler; absent an override, the manager
// replies ENOENT to whatever opened the connection." It is the
// zero-value handler new managers get unless told otherwise.
func DefaultHandler(ctx *ConnCtx, callid kernel.CallID, call kernel.Call) {
	ctx.Reply(callid, int32(kernerr.ENOENT), 0, 0)
}
