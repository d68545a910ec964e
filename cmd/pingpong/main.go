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

// Command pingpong drives two asyncipc.Manager instances over an
// in-process kernel/fake.Bus to exercise the full send/dispatch/reply
// round trip end to end, in the spirit of the teacher's
// samples/mount_hello: a small flag-configured main that wires one
// concrete instance of the library together and runs it.
package main

import (
	"flag"
	"log"

	"github.com/BohdanQQ/helenos/asyncipc"
	"github.com/BohdanQQ/helenos/kernel"
	"github.com/BohdanQQ/helenos/kernel/fake"
)

var fCount = flag.Int("count", 6, "Number of concurrent pings to send.")

const methodPing kernel.Method = kernel.FirstUserMethod

func main() {
	flag.Parse()

	bus := fake.NewBus()
	serverEP := bus.NewEndpoint("server", 0)
	clientEP := bus.NewEndpoint("client", 0)

	server := asyncipc.NewManager("server", serverEP, func(ctx *asyncipc.ConnCtx, callid kernel.CallID, call kernel.Call) {
		handlePingConnection(ctx, callid, call)
	})
	client := asyncipc.NewManager("client", clientEP, asyncipc.DefaultHandler)

	stop := make(chan struct{})
	go server.Run(stop)
	go client.Run(stop)

	phone := clientEP.Dial(serverEP, 0xC1)

	done := make(chan struct{})
	go func() {
		defer close(done)

		connID := client.Connect(phone, 0xC1)
		if _, _, err := client.WaitFor(connID); err != nil {
			log.Fatalf("connect: %v", err)
		}

		ids := make([]kernel.CallID, *fCount)
		for i := range ids {
			ids[i] = client.Send(phone, methodPing, uint64(i), 0)
		}
		for i, id := range ids {
			retval, answer, err := client.WaitFor(id)
			if err != nil {
				log.Fatalf("ping %d: %v", i, err)
			}
			log.Printf("ping %d -> retval=%d echo=%d", i, retval, answer.Arg1)
		}

		hangupID := client.Send(phone, kernel.MethodHangup, 0, 0)
		if _, _, err := client.WaitFor(hangupID); err != nil {
			log.Fatalf("hangup: %v", err)
		}
	}()

	<-done
	close(stop)
}

// handlePingConnection is the server-side connection handler: it answers
// IPC_M_CONNECT_ME_TO successfully, then echoes every subsequent call's
// Arg1 back to the caller until the connection hangs up.
func handlePingConnection(ctx *asyncipc.ConnCtx, callid kernel.CallID, call kernel.Call) {
	ctx.Reply(callid, 0, 0, 0)

	for {
		id, c := ctx.GetCall()
		if c.Method == kernel.MethodHangup {
			ctx.Reply(id, 0, 0, 0)
			return
		}
		ctx.Reply(id, 0, c.Arg1, 0)
	}
}
