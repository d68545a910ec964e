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

// Package asyncipc implements the heart of spec.md's async IPC framework:
// the reply correlator (C3), the connection router (C4), the manager loop
// (C5) that ties them to a kernel.Transport, and the public C7 façades
// (Send/WaitFor/WaitTimeout/GetCall/Reply/NewConnection).
//
// The design is grounded on the teacher's (github.com/jacobsa/fuse)
// Connection type in connection.go: one reader loop (ReadOp, here
// Manager.Run's call to transport.WaitCycle) feeding per-request state
// (opState there, *OutMsg/*InMsg here) correlated by an id
// (inMsg.Header().Unique there, kernel.CallID here) under one mutex
// (Connection.mu there, Manager.mu here). Where the teacher dispatches a
// goroutine per request (server.go's handleFuseRequest), this package
// dispatches a cooperative fiber per connection (fiber.Scheduler),
// matching spec.md's single-manager-thread contract (§5).
package asyncipc

import (
	"container/list"
	"context"

	"github.com/jacobsa/reqtrace"

	"github.com/BohdanQQ/helenos/asynctime"
	"github.com/BohdanQQ/helenos/fiber"
	"github.com/BohdanQQ/helenos/kernel"
)

// OutMsg represents one in-flight kernel request (spec.md §3). It
// implements asynctime.Entry so it can live directly in the manager's
// timeout list.
type OutMsg struct {
	id kernel.CallID

	owner  fiber.TaskID // 0 means "a plain goroutine, not a scheduled fiber"
	waitCh chan struct{} // used instead of the scheduler when owner == 0

	active      bool
	done        bool
	tombstoned  bool // see spec.md §9: timed-out waits are tombstoned, not freed
	retval      int32
	answer      kernel.Call
	deadline    asynctime.Timeval
	hasTimeout  bool
	inTimeoutList bool
	elem        *list.Element

	// traceCtx/traceReport root a reqtrace span opened at Send and closed
	// once the whole call (reply or timeout) resolves in wait; WaitFor and
	// WaitTimeout start a child span from traceCtx so the send and the
	// eventual wait correlate under one trace, the way fuseops/common_op.go
	// correlates an op's whole lifetime under the span opened in init.
	traceCtx    context.Context
	traceReport reqtrace.ReportFunc
}

// Deadline implements asynctime.Entry.
func (m *OutMsg) Deadline() asynctime.Timeval { return m.deadline }

// InMsg is a routed call queued on a Connection's FIFO (spec.md §3).
type InMsg struct {
	CallID kernel.CallID
	Call   kernel.Call
}

// ConnHandler is invoked once per connection, in its own fiber, with the
// initial call that established it. It should use ConnCtx.GetCall to
// retrieve subsequent calls and ConnCtx.Reply to answer them, returning
// when the connection should be torn down (spec.md §4.4's
// connection_fiber).
type ConnHandler func(ctx *ConnCtx, callid kernel.CallID, call kernel.Call)

// Connection is spec.md §3's Connection: FIFO of queued calls, owning
// fiber, active flag, and the call that created it.
type Connection struct {
	hash    uint64
	fifo    list.List // of *InMsg
	fiberID fiber.TaskID
	active  bool

	initialCallID kernel.CallID
	initialCall   kernel.Call
	handler       ConnHandler
}

// ConnCtx is the explicit per-connection context a handler uses to pull
// calls and send replies, replacing the teacher-era thread-local "current
// connection" pointer per spec.md §9's redesign note.
type ConnCtx struct {
	mgr  *Manager
	conn *Connection
}

// Hash returns the connection's identity key (spec.md's incoming-phone-hash).
func (c *ConnCtx) Hash() uint64 { return c.conn.hash }

// GetCall implements spec.md §4.4's get_call.
func (c *ConnCtx) GetCall() (kernel.CallID, kernel.Call) {
	return c.mgr.getCall(c.conn)
}

// Reply answers a call previously obtained from GetCall (or the initial
// call passed to the handler).
func (c *ConnCtx) Reply(callid kernel.CallID, retval int32, r1, r2 uint64) error {
	return c.mgr.reply(callid, retval, r1, r2)
}

// connTable is spec.md §3's connection table: an open-chained hash map of
// 32 buckets keyed by incoming-phone-hash, hash = (key >> 4) mod 32.
type connTable struct {
	buckets [32][]*Connection
}

func bucketIndex(hash uint64) int {
	return int((hash >> 4) % 32)
}

func (t *connTable) get(hash uint64) *Connection {
	for _, c := range t.buckets[bucketIndex(hash)] {
		if c.hash == hash {
			return c
		}
	}
	return nil
}

func (t *connTable) insert(c *Connection) {
	b := bucketIndex(c.hash)
	t.buckets[b] = append(t.buckets[b], c)
}

// remove detaches and drops the Connection with the given hash, freeing
// it for GC (spec.md's "Remove-callback frees the Connection").
func (t *connTable) remove(hash uint64) {
	b := bucketIndex(hash)
	bucket := t.buckets[b]
	for i, c := range bucket {
		if c.hash == hash {
			t.buckets[b] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// forEach walks every live connection, used only for diagnostics/tests.
func (t *connTable) forEach(fn func(*Connection)) {
	for _, bucket := range t.buckets {
		for _, c := range bucket {
			fn(c)
		}
	}
}
