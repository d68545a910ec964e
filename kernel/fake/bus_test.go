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

package fake

import (
	"testing"
	"time"

	"github.com/BohdanQQ/helenos/kernel"
)

func TestCallAsyncDeliversEventToPeer(t *testing.T) {
	bus := NewBus()
	client := bus.NewEndpoint("client", 0)
	server := bus.NewEndpoint("server", 0)
	phone := client.Dial(server, 0xAB)

	client.CallAsync(phone, kernel.Call{Method: kernel.FirstUserMethod, Arg1: 42}, nil, nil)

	callid, call, err := server.WaitCycle(0, false)
	if err != nil {
		t.Fatalf("WaitCycle() error = %v", err)
	}
	if callid.IsAnswered() {
		t.Fatalf("WaitCycle() delivered an answered event for a fresh call")
	}
	if call.InPhoneHash != 0xAB || call.Arg1 != 42 {
		t.Fatalf("WaitCycle() call = %+v, want hash 0xAB, Arg1 42", call)
	}
}

func TestAnswerFastInvokesCallbackAndWakesOrigin(t *testing.T) {
	bus := NewBus()
	client := bus.NewEndpoint("client", 0)
	server := bus.NewEndpoint("server", 0)
	phone := client.Dial(server, 0x1)

	type result struct {
		retval int32
		answer kernel.Call
	}
	got := make(chan result, 1)
	cb := func(cookie any, retval int32, answer kernel.Call) {
		got <- result{retval, answer}
	}

	id := client.CallAsync(phone, kernel.Call{Method: kernel.FirstUserMethod}, "cookie", cb)

	callid, _, err := server.WaitCycle(0, false)
	if err != nil {
		t.Fatalf("WaitCycle() error = %v", err)
	}
	if err := server.AnswerFast(callid, 7, 9, 0); err != nil {
		t.Fatalf("AnswerFast() error = %v", err)
	}

	select {
	case r := <-got:
		if r.retval != 7 || r.answer.Arg1 != 9 {
			t.Fatalf("callback got %+v, want retval 7, Arg1 9", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("AnswerFast() never invoked the callback")
	}

	answeredID, _, err := client.WaitCycle(0, false)
	if err != nil {
		t.Fatalf("client WaitCycle() error = %v", err)
	}
	if !answeredID.IsAnswered() || answeredID.Without() != id {
		t.Fatalf("answered event = %v, want answered flag set on %v", answeredID, id)
	}
}

func TestAnswerFastOnUnknownCallIsAnError(t *testing.T) {
	bus := NewBus()
	ep := bus.NewEndpoint("solo", 0)
	if err := ep.AnswerFast(kernel.CallID(12345), 0, 0, 0); err == nil {
		t.Fatalf("AnswerFast() on unknown call id returned nil error")
	}
}

func TestWaitCycleWithTimeoutReturnsZeroOnExpiry(t *testing.T) {
	bus := NewBus()
	ep := bus.NewEndpoint("solo", 0)

	callid, _, err := ep.WaitCycle(1000, true)
	if err != nil {
		t.Fatalf("WaitCycle() error = %v", err)
	}
	if callid != 0 {
		t.Fatalf("WaitCycle() callid = %v, want 0 on timeout", callid)
	}
}

func TestWaitCyclePollReturnsZeroWhenEmpty(t *testing.T) {
	bus := NewBus()
	ep := bus.NewEndpoint("solo", 0)

	callid, _, err := ep.WaitCycle(0, true)
	if err != nil {
		t.Fatalf("WaitCycle() error = %v", err)
	}
	if callid != 0 {
		t.Fatalf("WaitCycle() poll callid = %v, want 0", callid)
	}
}
