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

package udpassoc

import (
	"errors"
	"testing"
	"time"

	"github.com/BohdanQQ/helenos/kernerr"
)

type fakeTransmitter struct {
	sent []EndpointPair
	fail bool
}

func (f *fakeTransmitter) Transmit(ep EndpointPair, payload []byte) error {
	if f.fail {
		return errors.New("boom")
	}
	f.sent = append(f.sent, ep)
	return nil
}

func addr(b byte, port uint16) Endpoint {
	var a [16]byte
	a[15] = b
	return Endpoint{Addr: a, Port: port}
}

func TestEndpointMatchesWildcard(t *testing.T) {
	concrete := addr(1, 53)
	wildcard := Endpoint{} // any addr, any port

	if !concrete.Matches(wildcard) {
		t.Fatalf("expected wildcard pattern to match any endpoint")
	}
	if !concrete.Matches(Endpoint{Addr: concrete.Addr}) {
		t.Fatalf("expected port-wildcard pattern to match")
	}
	if concrete.Matches(addr(2, 53)) {
		t.Fatalf("did not expect a different address to match")
	}
}

func TestSendRejectsWildcardRemote(t *testing.T) {
	tx := &fakeTransmitter{}
	a := New("t", EndpointPair{Local: addr(1, 1000)}, tx)
	if err := a.Send(nil, []byte("x")); err != kernerr.ErrInvalid {
		t.Fatalf("Send() with no remote set = %v, want ErrInvalid", err)
	}
}

func TestSendTransmitsToOverriddenRemote(t *testing.T) {
	tx := &fakeTransmitter{}
	a := New("t", EndpointPair{Local: addr(1, 1000)}, tx)

	remote := addr(2, 2000)
	if err := a.Send(&remote, []byte("hi")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(tx.sent) != 1 || tx.sent[0].Remote != remote {
		t.Fatalf("sent = %+v, want one datagram to %+v", tx.sent, remote)
	}
}

func TestSendPropagatesTransmitFailureAsEIO(t *testing.T) {
	tx := &fakeTransmitter{fail: true}
	remote := addr(2, 2000)
	a := New("t", EndpointPair{Local: addr(1, 1000), Remote: remote}, tx)

	if err := a.Send(nil, []byte("hi")); err != kernerr.ErrIO {
		t.Fatalf("Send() = %v, want ErrIO", err)
	}
}

func TestRecvBlocksUntilDispatched(t *testing.T) {
	table := NewTable()
	a := New("t", EndpointPair{Local: addr(1, 1000)}, &fakeTransmitter{})
	table.Add(a)
	defer table.Remove(a)

	got := make(chan Msg, 1)
	go func() {
		msg, err := a.Recv()
		if err != nil {
			t.Errorf("Recv() error = %v", err)
		}
		got <- msg
	}()

	remote := addr(9, 9000)
	table.Dispatch(EndpointPair{Local: addr(1, 1000), Remote: remote}, []byte("payload"))

	select {
	case msg := <-got:
		if string(msg.Data) != "payload" || msg.Remote != remote {
			t.Fatalf("Recv() = %+v, want payload from %+v", msg, remote)
		}
	case <-time.After(time.Second):
		t.Fatalf("Recv() never returned the dispatched datagram")
	}
}

func TestDispatchDropsUnmatchedDatagram(t *testing.T) {
	table := NewTable()
	a := New("t", EndpointPair{Local: addr(1, 1000)}, &fakeTransmitter{})
	table.Add(a)
	defer table.Remove(a)

	// A different local port: no association claims this endpoint pair.
	table.Dispatch(EndpointPair{Local: addr(1, 2000), Remote: addr(9, 9000)}, []byte("x"))

	select {
	case <-timeAfterRecv(a):
		t.Fatalf("Recv() returned a datagram that should have been dropped")
	case <-time.After(50 * time.Millisecond):
		// Expected: nothing delivered.
	}
}

func TestResetUnblocksRecvWithENXIO(t *testing.T) {
	a := New("t", EndpointPair{Local: addr(1, 1000)}, &fakeTransmitter{})

	done := make(chan error, 1)
	go func() {
		_, err := a.Recv()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	a.Reset()

	select {
	case err := <-done:
		if err != kernerr.ErrNoSuchIO {
			t.Fatalf("Recv() after Reset() = %v, want ErrNoSuchIO", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Reset() never unblocked Recv()")
	}
}

func TestUnboundAssociationIsSkippedByDispatch(t *testing.T) {
	table := NewTable()
	// Local port 0 means "unbound" and must never receive a dispatch.
	a := New("t", EndpointPair{}, &fakeTransmitter{})
	table.Add(a)
	defer table.Remove(a)

	table.Dispatch(EndpointPair{Local: addr(1, 1234), Remote: addr(9, 9000)}, []byte("x"))

	select {
	case <-timeAfterRecv(a):
		t.Fatalf("unbound association should not have received a dispatch")
	case <-time.After(50 * time.Millisecond):
	}
}

// timeAfterRecv starts a or returns a channel that receives when a.Recv()
// returns, used only to probe for "no delivery happened" in these tests.
func timeAfterRecv(a *Assoc) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		a.Recv()
		close(ch)
	}()
	return ch
}
