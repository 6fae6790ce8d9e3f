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

/*
Package dscp marks outgoing packets of a socket with Differentiated Services Code Point.
*/
package dscp

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// Max is the highest valid DSCP value
const Max = 63

// Enable sets DSCP on the socket. localAddr decides the address family,
// unspecified IPv6 address is treated as dual stack and gets both IPv4 and IPv6 marking.
func Enable(connFd int, localAddr net.IP, dscp int) error {
	if dscp < 0 || dscp > Max {
		return fmt.Errorf("dscp must be between 0 and %d, got %d", Max, dscp)
	}
	// DSCP is the upper 6 bits of TOS / Traffic Class
	tos := dscp << 2
	if localAddr.To4() == nil {
		if err := unix.SetsockoptInt(connFd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos); err != nil {
			return fmt.Errorf("setting IPV6_TCLASS: %w", err)
		}
		if !localAddr.IsUnspecified() {
			return nil
		}
	}
	if err := unix.SetsockoptInt(connFd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		return fmt.Errorf("setting IP_TOS: %w", err)
	}
	return nil
}

// EnableConn sets DSCP on a UDP connection. Same address family rules as Enable apply.
func EnableConn(conn *net.UDPConn, dscp int) error {
	if dscp < 0 || dscp > Max {
		return fmt.Errorf("dscp must be between 0 and %d, got %d", Max, dscp)
	}
	tos := dscp << 2
	localAddr := conn.LocalAddr().(*net.UDPAddr).IP
	if localAddr.To4() == nil {
		if err := ipv6.NewPacketConn(conn).SetTrafficClass(tos); err != nil {
			return fmt.Errorf("setting traffic class: %w", err)
		}
		if !localAddr.IsUnspecified() {
			return nil
		}
	}
	if err := ipv4.NewPacketConn(conn).SetTOS(tos); err != nil {
		return fmt.Errorf("setting TOS: %w", err)
	}
	return nil
}
