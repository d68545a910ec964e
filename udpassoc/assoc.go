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

// Package udpassoc implements spec.md §4.6's UDP association table: a
// reference-counted, wildcard-matchable endpoint-pair registry sitting
// between the connection-router world (asyncipc) and a real UDP socket
// (udptransport).
//
// It is a direct Go port of the teacher corpus's original_source/
// uspace/srv/net/udp/assoc.c (HelenOS's udp_assoc_t / assoc_list):
// udp_assoc_new/addref/delref/delete become New/addRef/release/Delete,
// udp_assoc_add/remove become Table.Add/Table.Remove, udp_assoc_send
// becomes Assoc.Send, udp_assoc_recv (condvar wait loop) becomes
// Assoc.Recv, udp_assoc_received/find_ref become Table.Dispatch, and
// udp_ep_match/udp_ep2_match become EndpointPair.Matches. Where the
// original uses a fibril_mutex + fibril_condvar pair per association and
// a single global fibril_mutex for the list, this port uses sync.Mutex +
// sync.Cond per Assoc and a sync.Mutex on Table, since (unlike the
// single-manager-thread asyncipc package) associations are genuinely
// touched from multiple goroutines: one per open UDP socket's read loop.
package udpassoc

import (
	"sync"

	"github.com/BohdanQQ/helenos/kernerr"
)

// Endpoint is one side of a UDP conversation: an address and a port.
// inet_port_any (port 0) and a zero Addr both act as wildcards when used
// in a pattern passed to Matches, mirroring inet_addr_is_any/
// inet_port_any in the original.
type Endpoint struct {
	Addr [16]byte // IPv4-mapped or IPv6, same convention as net.IP's 16-byte form
	Port uint16
}

// IsAnyAddr reports whether e's address is the wildcard address.
func (e Endpoint) IsAnyAddr() bool {
	return e.Addr == [16]byte{}
}

// Matches reports whether e satisfies pattern, treating a wildcard
// address or port (0) in pattern as "matches anything" — udp_ep_match.
func (e Endpoint) Matches(pattern Endpoint) bool {
	if !pattern.IsAnyAddr() && pattern.Addr != e.Addr {
		return false
	}
	if pattern.Port != 0 && pattern.Port != e.Port {
		return false
	}
	return true
}

// EndpointPair is spec.md's inet_ep2_t: a (local, remote) pair
// identifying one association.
type EndpointPair struct {
	Local  Endpoint
	Remote Endpoint
}

// Matches reports whether ep satisfies pattern on both sides —
// udp_ep2_match.
func (ep EndpointPair) Matches(pattern EndpointPair) bool {
	return ep.Local.Matches(pattern.Local) && ep.Remote.Matches(pattern.Remote)
}

// Msg is one UDP datagram's worth of payload, queued on an Assoc's
// receive queue or handed to Send.
type Msg struct {
	Data   []byte
	Remote Endpoint
}

type rcvQueueEntry struct {
	msg    Msg
	remote Endpoint
}

// Transmitter is the thing Assoc.Send ultimately calls to put bytes on
// the wire — udp_transmit_pdu in the original, implemented for real by
// udptransport.
type Transmitter interface {
	Transmit(ep EndpointPair, payload []byte) error
}

// Callback is udp_assoc_cb_t: the single hook an association invokes when
// a datagram is dispatched to it. RecvMsg is udp_assoc_received's
// `assoc->cb->recv_msg(assoc->cb_arg, repp, msg)` call.
type Callback struct {
	RecvMsg func(cbArg any, ep EndpointPair, msg Msg)
}

// queueCallback is the Callback every Assoc gets by default: it feeds the
// dispatched datagram into the association's own rcvQueue, the behavior
// udp_recv's blocking read expects of a freshly created association.
var queueCallback = &Callback{
	RecvMsg: func(cbArg any, ep EndpointPair, msg Msg) {
		cbArg.(*Assoc).queueMsg(ep.Remote, msg)
	},
}

// Assoc is spec.md §4.6's UdpAssoc: a single UDP "connection" identified
// by an endpoint pair, reference counted so udp_assoc_received can safely
// hand out a pointer to a caller racing udp_assoc_delete.
type Assoc struct {
	Name string

	mu       sync.Mutex
	cond     *sync.Cond
	ident    EndpointPair
	iplink   uint64
	refcnt   int
	deleted  bool
	reset    bool
	rcvQueue []rcvQueueEntry

	cb    *Callback
	cbArg any

	tx Transmitter
}

// New creates an association with one reference held on behalf of the
// caller ("one for the user", per udp_assoc_new). It is wired with the
// default queueing Callback, so Recv works out of the box; call
// SetCallback to replace it with something else.
func New(name string, ident EndpointPair, tx Transmitter) *Assoc {
	a := &Assoc{Name: name, ident: ident, refcnt: 1, tx: tx}
	a.cond = sync.NewCond(&a.mu)
	a.cb, a.cbArg = queueCallback, a
	return a
}

// SetCallback overrides the recv_msg callback and its cb_arg — udp_assoc_t
// always takes these at udp_assoc_new time in the original, but since this
// port always constructs with the default queueing Callback first (so
// Recv works immediately), a setter is how a caller plugs in something
// else afterward, e.g. a consumer that wants datagrams pushed to it
// directly instead of polled via Recv.
func (a *Assoc) SetCallback(cb *Callback, cbArg any) {
	a.mu.Lock()
	a.cb = cb
	a.cbArg = cbArg
	a.mu.Unlock()
}

func (a *Assoc) addRef() {
	a.mu.Lock()
	a.refcnt++
	a.mu.Unlock()
}

// release drops one reference, freeing the association's receive queue
// once the count reaches zero (udp_assoc_delref / udp_assoc_free).
func (a *Assoc) release() {
	a.mu.Lock()
	a.refcnt--
	done := a.refcnt == 0
	if done {
		a.rcvQueue = nil
	}
	a.mu.Unlock()
}

// Delete marks the association deleted and drops the caller's own
// reference (udp_assoc_delete); the Assoc is freed once no other
// goroutine is still holding a reference obtained via Table.Dispatch.
func (a *Assoc) Delete() {
	a.mu.Lock()
	if a.deleted {
		a.mu.Unlock()
		return
	}
	a.deleted = true
	a.mu.Unlock()
	a.release()
}

// SetIPLink records which IP link this association is bound to
// (udp_assoc_set_iplink).
func (a *Assoc) SetIPLink(iplink uint64) {
	a.mu.Lock()
	a.iplink = iplink
	a.mu.Unlock()
}

// SetLocal overrides the local endpoint (udp_assoc_set_local).
func (a *Assoc) SetLocal(local Endpoint) {
	a.mu.Lock()
	a.ident.Local = local
	a.mu.Unlock()
}

// SetLocalPort overrides just the local port (udp_assoc_set_local_port).
func (a *Assoc) SetLocalPort(port uint16) {
	a.mu.Lock()
	a.ident.Local.Port = port
	a.mu.Unlock()
}

// SetRemote overrides the remote endpoint (udp_assoc_set_remote).
func (a *Assoc) SetRemote(remote Endpoint) {
	a.mu.Lock()
	a.ident.Remote = remote
	a.mu.Unlock()
}

// Ident returns a's current endpoint pair.
func (a *Assoc) Ident() EndpointPair {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ident
}

// Send transmits msg, optionally overriding the remote endpoint for this
// one datagram, implementing udp_assoc_send's validation: the remote side
// may not be a wildcard, and a concrete local address must be of the same
// address family as the remote one; either failure returns ErrInvalid.
func (a *Assoc) Send(remoteOverride *Endpoint, payload []byte) error {
	a.mu.Lock()
	epp := a.ident
	if remoteOverride != nil {
		epp.Remote = *remoteOverride
	}
	tx := a.tx
	a.mu.Unlock()

	if epp.Remote.IsAnyAddr() || epp.Remote.Port == 0 {
		return kernerr.ErrInvalid
	}

	// IPv4 addresses are held IPv4-mapped (::ffff:a.b.c.d). A wildcard
	// local address takes no part in the family check.
	isV4 := func(a [16]byte) bool {
		return [12]byte(a[:12]) == [12]byte{10: 0xff, 11: 0xff}
	}
	if !epp.Local.IsAnyAddr() && isV4(epp.Local.Addr) != isV4(epp.Remote.Addr) {
		return kernerr.ErrInvalid
	}

	if tx == nil {
		return kernerr.ErrNoSuchIO
	}
	if err := tx.Transmit(epp, payload); err != nil {
		return kernerr.ErrIO
	}
	return nil
}

// Recv blocks until a datagram is queued or the association is reset,
// implementing udp_assoc_recv's fibril_condvar_wait loop with a Go
// sync.Cond.
func (a *Assoc) Recv() (Msg, error) {
	a.mu.Lock()
	for len(a.rcvQueue) == 0 && !a.reset {
		a.cond.Wait()
	}
	if a.reset {
		a.mu.Unlock()
		return Msg{}, kernerr.ErrNoSuchIO
	}
	entry := a.rcvQueue[0]
	a.rcvQueue = a.rcvQueue[1:]
	a.mu.Unlock()
	return entry.msg, nil
}

// queueMsg appends msg to the receive queue and wakes any Recv waiters —
// udp_assoc_queue_msg.
func (a *Assoc) queueMsg(remote Endpoint, msg Msg) {
	a.mu.Lock()
	a.rcvQueue = append(a.rcvQueue, rcvQueueEntry{msg: msg, remote: remote})
	a.mu.Unlock()
	a.cond.Broadcast()
}

// Reset causes any pending or future Recv call to return ErrNoSuchIO
// immediately (udp_assoc_reset).
func (a *Assoc) Reset() {
	a.mu.Lock()
	a.reset = true
	a.mu.Unlock()
	a.cond.Broadcast()
}

// Table is the global association registry (assoc_list + assoc_list_lock
// in the original).
type Table struct {
	mu    sync.Mutex
	assoc []*Assoc
}

// NewTable creates an empty association table.
func NewTable() *Table {
	return &Table{}
}

// Add enlists assoc, taking an extra reference on its behalf — udp_assoc_add.
func (t *Table) Add(assoc *Assoc) {
	assoc.addRef()
	t.mu.Lock()
	t.assoc = append(t.assoc, assoc)
	t.mu.Unlock()
}

// Remove delists assoc and drops the reference Add took — udp_assoc_remove.
func (t *Table) Remove(assoc *Assoc) {
	t.mu.Lock()
	for i, a := range t.assoc {
		if a == assoc {
			t.assoc = append(t.assoc[:i], t.assoc[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	assoc.release()
}

// findRef scans the table for an association whose bound endpoint pair
// matches repp, bumping its reference count before returning it —
// udp_assoc_find_ref. Associations whose local port is still the
// wildcard ("unbound") are skipped, matching the original.
func (t *Table) findRef(repp EndpointPair) *Assoc {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range t.assoc {
		ident := a.Ident()
		if ident.Local.Port == 0 {
			continue
		}
		if repp.Matches(ident) {
			a.addRef()
			return a
		}
	}
	return nil
}

// Dispatch delivers an inbound datagram to whichever association claims
// repp, dropping it silently if none does — udp_assoc_received, which
// hands the datagram to assoc->cb->recv_msg(assoc->cb_arg, repp, msg)
// while holding the reference findRef took, releasing it only once
// recv_msg returns.
func (t *Table) Dispatch(repp EndpointPair, payload []byte) {
	assoc := t.findRef(repp)
	if assoc == nil {
		return
	}

	assoc.mu.Lock()
	cb, cbArg := assoc.cb, assoc.cbArg
	assoc.mu.Unlock()

	if cb != nil && cb.RecvMsg != nil {
		cb.RecvMsg(cbArg, repp, Msg{Data: payload, Remote: repp.Remote})
	}
	assoc.release()
}
