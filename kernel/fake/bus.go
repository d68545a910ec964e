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

// Package fake provides an in-process stand-in for the kernel IPC
// transport (kernel.Transport), sufficient to drive the async manager,
// connection router and reply correlator end-to-end in tests and the demo
// CLIs without a real kernel or real HelenOS phones.
//
// It is grounded on the teacher's habit of giving every FileSystem-facing
// abstraction (fuse.Connection) a small, dependency-free collaborator
// (message_provider.go's freelist-backed MessageProvider) rather than
// reaching for a heavyweight fake; a Bus here plays the same role for
// kernel.Transport.
package fake

import (
	"fmt"
	"sync"
	"time"

	"github.com/BohdanQQ/helenos/kernel"
)

type event struct {
	callid kernel.CallID
	call   kernel.Call
}

type pendingEntry struct {
	origin *Endpoint
	cookie any
	cb     kernel.AnswerCallback
}

// Bus is a shared in-process kernel standing behind one or more
// Endpoints. Each Endpoint implements kernel.Transport from the point of
// view of one simulated kernel thread / manager instance.
type Bus struct {
	mu       sync.Mutex
	nextCall uint64
	pending  map[kernel.CallID]*pendingEntry
}

// NewBus creates an empty fake kernel.
func NewBus() *Bus {
	return &Bus{pending: make(map[kernel.CallID]*pendingEntry)}
}

// Endpoint is one side of the fake kernel, implementing kernel.Transport.
type Endpoint struct {
	bus    *Bus
	Name   string
	events chan event

	mu     sync.Mutex
	links  map[kernel.PhoneID]*Endpoint
	hashes map[kernel.PhoneID]uint64
}

// NewEndpoint creates an Endpoint backed by bus. queueDepth bounds how
// many undelivered events may queue before CallAsync/AnswerFast block;
// pass 0 for a sensible default.
func (b *Bus) NewEndpoint(name string, queueDepth int) *Endpoint {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Endpoint{
		bus:    b,
		Name:   name,
		events: make(chan event, queueDepth),
		links:  make(map[kernel.PhoneID]*Endpoint),
		hashes: make(map[kernel.PhoneID]uint64),
	}
}

// Dial registers a one-directional phone from e to peer, identified to
// peer's connection router by hash (spec.md's incoming-phone-hash). It
// returns the PhoneID e must pass to CallAsync to reach peer.
func (e *Endpoint) Dial(peer *Endpoint, hash uint64) kernel.PhoneID {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := kernel.PhoneID(len(e.links) + 1)
	for {
		if _, taken := e.links[id]; !taken {
			break
		}
		id++
	}
	e.links[id] = peer
	e.hashes[id] = hash
	return id
}

// WaitCycle implements kernel.Transport, standing in for ipc_wait_cycle.
func (e *Endpoint) WaitCycle(timeoutUsec int64, hasTimeout bool) (kernel.CallID, kernel.Call, error) {
	if !hasTimeout {
		ev := <-e.events
		return ev.callid, ev.call, nil
	}

	if timeoutUsec <= 0 {
		select {
		case ev := <-e.events:
			return ev.callid, ev.call, nil
		default:
			return 0, kernel.Call{}, nil
		}
	}

	timer := time.NewTimer(time.Duration(timeoutUsec) * time.Microsecond)
	defer timer.Stop()
	select {
	case ev := <-e.events:
		return ev.callid, ev.call, nil
	case <-timer.C:
		return 0, kernel.Call{}, nil
	}
}

// CallAsync implements kernel.Transport, standing in for ipc_call_async.
func (e *Endpoint) CallAsync(phone kernel.PhoneID, call kernel.Call, cookie any, cb kernel.AnswerCallback) kernel.CallID {
	e.mu.Lock()
	peer, ok := e.links[phone]
	hash := e.hashes[phone]
	e.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("fake: %s: unknown phone %d", e.Name, phone))
	}
	call.InPhoneHash = hash

	e.bus.mu.Lock()
	e.bus.nextCall++
	id := kernel.CallID(e.bus.nextCall)
	e.bus.pending[id] = &pendingEntry{origin: e, cookie: cookie, cb: cb}
	e.bus.mu.Unlock()

	peer.events <- event{callid: id, call: call}
	return id
}

// AnswerFast implements kernel.Transport, standing in for
// ipc_answer_fast: it invokes the original caller's AnswerCallback and
// wakes the caller's WaitCycle loop with an answered-flagged event,
// mirroring spec.md §6's IPC_CALLID_ANSWERED convention.
func (e *Endpoint) AnswerFast(callid kernel.CallID, retval int32, r1, r2 uint64) error {
	e.bus.mu.Lock()
	pe, ok := e.bus.pending[callid]
	if ok {
		delete(e.bus.pending, callid)
	}
	e.bus.mu.Unlock()

	if !ok {
		return fmt.Errorf("fake: answer to unknown call %d", callid)
	}

	if pe.cb != nil {
		pe.cb(pe.cookie, retval, kernel.Call{Arg1: r1, Arg2: r2})
	}

	pe.origin.events <- event{callid: callid | kernel.AnsweredFlag}
	return nil
}
