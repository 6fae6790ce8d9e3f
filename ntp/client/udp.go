/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/facebook/ntpclient/dscp"
	"golang.org/x/sys/unix"
)

var errNotBound = errors.New("socket is not bound")

// ConnFd returns file descriptor of a connection
func ConnFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var intfd int
	err = sc.Control(func(fd uintptr) {
		intfd = int(fd)
	})
	if err != nil {
		return -1, err
	}
	return intfd, nil
}

// UDPTransport implements Transport on top of the host UDP stack
type UDPTransport struct {
	// DSCP for outgoing packets, 0 keeps system default
	DSCP int

	conn   *net.UDPConn
	connFd int
	peer   *net.UDPAddr
}

// Bind listens on localPort on all local addresses
func (t *UDPTransport) Bind(localPort int) error {
	if t.conn != nil {
		return fmt.Errorf("already bound to %s", t.conn.LocalAddr())
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return err
	}
	connFd, err := ConnFd(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("getting connection fd: %w", err)
	}
	if t.DSCP != 0 {
		localAddr := conn.LocalAddr().(*net.UDPAddr)
		if err := dscp.Enable(connFd, localAddr.IP, t.DSCP); err != nil {
			conn.Close()
			return err
		}
	}
	t.conn = conn
	t.connFd = connFd
	return nil
}

// LocalAddr returns address the socket is bound to, nil if not bound
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// SendTo resolves host and sends b to it
func (t *UDPTransport) SendTo(host string, port int, b []byte) error {
	if t.conn == nil {
		return errNotBound
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("resolving %s: %w", host, err)
	}
	_, err = t.conn.WriteToUDP(b, addr)
	return err
}

// PollReceived checks socket readability without blocking
func (t *UDPTransport) PollReceived() (bool, error) {
	if t.conn == nil {
		return false, errNotBound
	}
	fds := []unix.PollFd{{Fd: int32(t.connFd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("polling socket: %w", err)
		}
		return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
	}
}

// Read reads pending datagram. Call it only after PollReceived reported one, otherwise it blocks.
func (t *UDPTransport) Read(b []byte) (int, error) {
	if t.conn == nil {
		return 0, errNotBound
	}
	n, addr, err := t.conn.ReadFromUDP(b)
	if err != nil {
		return 0, err
	}
	t.peer = addr
	return n, nil
}

// Peer returns sender of the last datagram read
func (t *UDPTransport) Peer() net.Addr {
	if t.peer == nil {
		return nil
	}
	return t.peer
}

// Close closes the socket. Transport can be bound again afterwards.
func (t *UDPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.connFd = -1
	t.peer = nil
	return err
}
