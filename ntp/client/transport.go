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

//go:generate mockgen -source=transport.go -destination=transport_mock.go -package=client

// Transport describes what functionality we expect from a datagram socket.
// It is the only thing the client needs from the host network stack.
type Transport interface {
	// Bind acquires local UDP port
	Bind(localPort int) error
	// SendTo sends single datagram to host:port
	SendTo(host string, port int, b []byte) error
	// PollReceived reports whether a datagram is waiting to be read. Must not block.
	PollReceived() (bool, error)
	// Read copies pending datagram into b, anything beyond len(b) is dropped
	Read(b []byte) (int, error)
	// Close releases the socket
	Close() error
}
