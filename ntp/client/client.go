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
Package client implements minimal single-shot NTP client.
It sends one 48 bytes request, polls the transport until a datagram arrives or
timeout elapses, and returns transmit timestamp of the reply as Unix epoch seconds.
The first datagram received wins. Recovery policy (retries, backoff, other servers)
is up to the caller.
*/
package client

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/facebook/ntpclient/ntp/protocol"
)

// ErrTimeout is returned when no reply arrived within Config.Timeout
var ErrTimeout = errors.New("timed out waiting for ntp reply")

type state int

const (
	stateUnbound state = iota
	stateBound
)

var stateToString = map[state]string{
	stateUnbound: "UNBOUND",
	stateBound:   "BOUND",
}

func (s state) String() string {
	return stateToString[s]
}

// Client is a minimal NTP client. It owns the transport exclusively.
// Calls are serialized, so replies of overlapping calls can't cross.
type Client struct {
	cfg       Config
	transport Transport
	clock     clockwork.Clock
	stats     Stats
	state     state
	sync.Mutex
}

// New creates a client talking over provided transport. Config is copied.
func New(cfg *Config, transport Transport) *Client {
	return &Client{
		cfg:       *cfg,
		transport: transport,
		clock:     clockwork.NewRealClock(),
		stats:     noopStats{},
		state:     stateUnbound,
	}
}

// NewUDP creates a client on top of the host UDP stack
func NewUDP(cfg *Config) *Client {
	return New(cfg, &UDPTransport{DSCP: cfg.DSCP})
}

// SetStats sets stats reporter
func (c *Client) SetStats(s Stats) {
	c.Lock()
	defer c.Unlock()
	c.stats = s
}

// Config returns copy of the client config
func (c *Client) Config() Config {
	return c.cfg
}

// GetEpoch returns Unix epoch seconds reported by the server, or 0 on timeout or any other failure
func (c *Client) GetEpoch() uint32 {
	epoch, err := c.Epoch(context.Background())
	if err != nil {
		log.Debugf("failed to get epoch from %s: %v", c.cfg.Server, err)
		return 0
	}
	return epoch
}

// Epoch does a single request/reply exchange and returns Unix epoch seconds from the reply.
// It returns ErrTimeout if nothing arrived in time and protocol.ErrShortPacket if the
// first datagram was too short; epoch is 0 in both cases.
func (c *Client) Epoch(ctx context.Context) (uint32, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.bind(); err != nil {
		return 0, err
	}

	request := protocol.NewRequest()
	var nonceSec, nonceFrac uint32
	if c.cfg.VerifyOrigin {
		var err error
		if nonceSec, nonceFrac, err = newNonce(); err != nil {
			return 0, fmt.Errorf("generating request nonce: %w", err)
		}
		request.SetTransmitTime(nonceSec, nonceFrac)
	}

	if err := c.transport.SendTo(c.cfg.Server, c.cfg.Port, request.Bytes()); err != nil {
		c.stats.IncSendErrors()
		return 0, fmt.Errorf("sending request to %s:%d: %w", c.cfg.Server, c.cfg.Port, err)
	}
	sent := c.clock.Now()
	c.stats.IncRequests()
	log.Debugf("sent request to %s:%d", c.cfg.Server, c.cfg.Port)

	buf := make([]byte, protocol.PacketSizeBytes)
	for {
		ready, err := c.transport.PollReceived()
		if err != nil {
			return 0, fmt.Errorf("polling for reply: %w", err)
		}
		if ready {
			n, err := c.transport.Read(buf)
			if err != nil {
				return 0, fmt.Errorf("reading reply: %w", err)
			}
			reply := buf[:n]
			c.logReply(reply)
			if !c.cfg.VerifyOrigin || len(reply) < protocol.MinResponseSizeBytes || originMatches(reply, nonceSec, nonceFrac) {
				return c.decode(reply)
			}
			c.stats.IncDiscarded()
			log.Debugf("discarding reply with unexpected origin timestamp")
		}
		if c.clock.Since(sent) >= c.cfg.Timeout {
			c.stats.IncTimeouts()
			log.Debugf("no reply from %s within %v", c.cfg.Server, c.cfg.Timeout)
			return 0, ErrTimeout
		}
		if err := c.wait(ctx); err != nil {
			return 0, err
		}
	}
}

// Close releases the transport. Next request binds it again.
func (c *Client) Close() error {
	c.Lock()
	defer c.Unlock()
	if c.state == stateUnbound {
		return nil
	}
	c.state = stateUnbound
	return c.transport.Close()
}

func (c *Client) bind() error {
	if c.state == stateBound {
		return nil
	}
	if err := c.transport.Bind(c.cfg.LocalPort); err != nil {
		c.stats.IncBindErrors()
		return fmt.Errorf("binding local port %d: %w", c.cfg.LocalPort, err)
	}
	c.state = stateBound
	log.Debugf("client state %s, local port %d", c.state, c.cfg.LocalPort)
	return nil
}

func (c *Client) decode(reply []byte) (uint32, error) {
	epoch, err := protocol.DecodeEpoch(reply)
	if err != nil {
		c.stats.IncShortReplies()
		return 0, err
	}
	c.stats.IncResponses()
	return epoch, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.cfg.PollInterval <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(c.cfg.PollInterval):
		return nil
	}
}

func (c *Client) logReply(reply []byte) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	var from net.Addr
	if p, ok := c.transport.(interface{ Peer() net.Addr }); ok {
		from = p.Peer()
	}
	log.Debugf("received %d bytes from %v", len(reply), from)
	if len(reply) < protocol.PacketSizeBytes {
		return
	}
	packet, err := protocol.BytesToPacket(reply)
	if err != nil {
		return
	}
	if !packet.IsServerReply() {
		log.Debugf("reply is not in server mode")
	}
	log.Debugf("reply: %s", spew.Sdump(packet))
}

func newNonce() (uint32, uint32, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint32(b[:4]), binary.BigEndian.Uint32(b[4:]), nil
}

func originMatches(reply []byte, seconds, fractions uint32) bool {
	sec, frac, err := protocol.OriginTime(reply)
	return err == nil && sec == seconds && frac == fractions
}
