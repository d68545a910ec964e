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

// Command udpecho wires udptransport and udpassoc together into a
// minimal UDP echo service: every datagram received on a bound
// association is sent straight back to its sender. It exists to
// exercise udpassoc.Table/udptransport.Socket end to end, the way the
// teacher's samples/mount_hello exercises a sample FileSystem.
package main

import (
	"flag"
	"log"

	"github.com/BohdanQQ/helenos/udpassoc"
	"github.com/BohdanQQ/helenos/udptransport"
)

var fAddr = flag.String("addr", ":0", "Address to listen on, host:port.")

func main() {
	flag.Parse()

	table := udpassoc.NewTable()

	sock, err := udptransport.Listen(*fAddr, table)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer sock.Close()

	local := sock.LocalAddr()
	log.Printf("udpecho listening on %v", local)

	ident := udpassoc.EndpointPair{
		Local: udpassoc.Endpoint{Port: uint16(local.Port)},
	}
	assoc := udpassoc.New("echo", ident, sock)
	table.Add(assoc)
	defer table.Remove(assoc)

	go func() {
		for {
			msg, err := assoc.Recv()
			if err != nil {
				return
			}
			remote := msg.Remote
			if err := assoc.Send(&remote, msg.Data); err != nil {
				log.Printf("echo send: %v", err)
			}
		}
	}()

	if err := sock.RecvLoop(); err != nil {
		log.Printf("recv loop stopped: %v", err)
	}
}
