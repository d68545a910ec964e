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

// Package udptransport is spec.md §2's component C12: a real net.UDPConn
// wire transport sitting underneath udpassoc.Table, completing the stack
// that udpassoc.Assoc.Send's Transmitter interface describes abstractly.
//
// Grounded on the socket setup in the pack's HydraDNS UDP server
// (internal/server/udp_server.go's listenReusePort): a net.ListenConfig
// with a Control callback that flips SO_REUSEPORT via
// golang.org/x/sys/unix.SetsockoptInt, plus SetReadBuffer/SetWriteBuffer
// for burst headroom. Unlike HydraDNS, this package opens exactly one
// socket (spec.md's UDP association table is a single per-process
// registry, not a per-core shard), so SO_REUSEPORT buys nothing here and
// is skipped; the rest of the setup idiom is kept.
package udptransport

import (
	"context"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/BohdanQQ/helenos/udpassoc"
)

const (
	recvBufferSize = 256 * 1024
	sendBufferSize = 256 * 1024

	// maxDatagramSize is the largest UDP payload this transport will
	// attempt to read in one call to ReadFromUDP.
	maxDatagramSize = 65507
)

// Socket is a real UDP wire transport: it feeds inbound datagrams to a
// udpassoc.Table and implements udpassoc.Transmitter for outbound ones.
type Socket struct {
	conn  *net.UDPConn
	table *udpassoc.Table
}

// Listen opens a UDP socket bound to addr (host:port, "" host for all
// interfaces) and wires it to table: inbound datagrams are dispatched
// via table.Dispatch, and the returned Socket is ready to be used as the
// Transmitter for associations added to table.
func Listen(addr string, table *udpassoc.Table) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufferSize)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)

	_ = conn.SetReadBuffer(recvBufferSize)
	_ = conn.SetWriteBuffer(sendBufferSize)

	return &Socket{conn: conn, table: table}, nil
}

// LocalAddr returns the address this socket is actually bound to (useful
// when addr's port was 0).
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Close shuts the socket down; RecvLoop returns once this has been
// called.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// RecvLoop reads datagrams until the socket is closed, dispatching each
// to the association table it was constructed with. It is meant to run
// on its own goroutine; the corresponding idiom in the pack is
// HydraDNS's UDPServer.recvLoop, simplified here to one socket/one
// goroutine since there is no per-core sharding to do.
func (s *Socket) RecvLoop() error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, peerAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		local := s.LocalAddr()
		repp := udpassoc.EndpointPair{
			Local:  endpointFromPort(local.Port),
			Remote: endpointFromAddrPort(peerAddr.AddrPort()),
		}
		s.table.Dispatch(repp, payload)
	}
}

// Transmit implements udpassoc.Transmitter by writing payload to ep's
// remote address.
func (s *Socket) Transmit(ep udpassoc.EndpointPair, payload []byte) error {
	addr := &net.UDPAddr{
		IP:   addrFromEndpoint(ep.Remote).AsSlice(),
		Port: int(ep.Remote.Port),
	}
	_, err := s.conn.WriteToUDP(payload, addr)
	return err
}

func endpointFromPort(port int) udpassoc.Endpoint {
	return udpassoc.Endpoint{Port: uint16(port)}
}

func endpointFromAddrPort(ap netip.AddrPort) udpassoc.Endpoint {
	return udpassoc.Endpoint{
		Addr: ap.Addr().As16(),
		Port: ap.Port(),
	}
}

func addrFromEndpoint(ep udpassoc.Endpoint) netip.Addr {
	return netip.AddrFrom16(ep.Addr).Unmap()
}
