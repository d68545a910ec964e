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

// Package kernel defines the boundary between the async IPC framework and
// the kernel IPC primitives it rides on top of (spec.md §6, "External
// Interfaces (consumed)"). The kernel's actual ipc_wait_cycle /
// ipc_call_async / ipc_answer_fast are out of scope per spec.md §1 ("The
// kernel IPC primitives themselves... treated as a given transport"); this
// package is the Go-shaped contract that stands in for them, implemented
// for real (in-process) by kernel/fake and for production by whatever
// actually talks to the kernel.
package kernel

// PhoneID is a kernel handle to a bidirectional IPC channel (spec.md
// GLOSSARY "Phone").
type PhoneID uint64

// CallID is a kernel token identifying one request; it must eventually be
// answered (spec.md GLOSSARY "Call-id").
//
// The high bit mirrors IPC_CALLID_ANSWERED (spec.md §6): when set on the
// value returned from WaitCycle, the event is a reply whose callback has
// already run, not a fresh call to dispatch.
type CallID uint64

// AnsweredFlag is IPC_CALLID_ANSWERED from spec.md §6.
const AnsweredFlag CallID = 1 << 63

// IsAnswered reports whether this CallID, as returned from WaitCycle,
// denotes an already-processed reply event rather than an incoming call.
func (c CallID) IsAnswered() bool {
	return c&AnsweredFlag != 0
}

// Without strips the answered flag, giving the raw call id.
func (c CallID) Without() CallID {
	return c &^ AnsweredFlag
}

// Method codes used by the connection router (spec.md §6). Protocol
// services allocate their own method codes from FirstUserMethod upward.
type Method uint32

const (
	// MethodConnectMeTo is IPC_M_CONNECT_ME_TO: request to establish a new
	// connection, carrying the new phone hash in Arg3.
	MethodConnectMeTo Method = 1

	// MethodInterrupt is IPC_M_INTERRUPT, silently ignored by the router.
	MethodInterrupt Method = 2

	// MethodHangup is the service-specific HANGUP sentinel a client sends
	// to ask a connection's handler to tear the connection down cleanly
	// (spec.md §8 scenario 3). Calls still queued when a connection fiber
	// flushes its FIFO are answered with the kernerr.EHANGUP retval, not
	// with this method code.
	MethodHangup Method = 3

	// FirstUserMethod is the first method code available to protocol
	// services built on top of the router (e.g. the demo PING method).
	FirstUserMethod Method = 1000
)

// Call is the kernel call shape from spec.md §6: {in_phone_hash, method,
// arg1..arg5}. The router uses InPhoneHash as the connection key;
// new_connection reads the peer's phone hash from Arg3.
type Call struct {
	InPhoneHash uint64
	Method      Method
	Arg1        uint64
	Arg2        uint64
	Arg3        uint64
	Arg4        uint64
	Arg5        uint64
}

// AnswerCallback is invoked by the transport when a reply arrives for a
// call previously submitted via CallAsync, exactly as spec.md §6
// describes ipc_call_async's cb: "invoked with (cookie, retval,
// *answer)". cookie is whatever was passed to CallAsync; answer carries
// the two reply words HelenOS fits into ipc_answer_fast's r1/r2.
type AnswerCallback func(cookie any, retval int32, answer Call)

// Transport is the consumed kernel IPC boundary (spec.md §6):
//
//   - WaitCycle(timeoutUsec, hasTimeout) stands in for ipc_wait_cycle:
//     returns (0, _, nil) on timeout, blocking at most timeoutUsec
//     microseconds (hasTimeout == false means block indefinitely,
//     matching "no timeout" from spec.md §4.5).
//   - CallAsync stands in for ipc_call_async: issues an async request,
//     invoking cb from some goroutine when the reply arrives.
//   - AnswerFast stands in for ipc_answer_fast: replies to a call
//     previously returned from WaitCycle.
type Transport interface {
	WaitCycle(timeoutUsec int64, hasTimeout bool) (CallID, Call, error)
	CallAsync(phone PhoneID, call Call, cookie any, cb AnswerCallback) CallID
	AnswerFast(callid CallID, retval int32, r1, r2 uint64) error
}
