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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/facebook/ntpclient/ntp/protocol"
)

// 2024-01-01 00:00:00 UTC
const (
	testNTPSeconds  = uint32(3913056000)
	testUnixSeconds = uint32(1704067200)
)

type mockStats struct {
	mock.Mock
}

func (m *mockStats) IncRequests()     { m.Called() }
func (m *mockStats) IncResponses()    { m.Called() }
func (m *mockStats) IncTimeouts()     { m.Called() }
func (m *mockStats) IncShortReplies() { m.Called() }
func (m *mockStats) IncDiscarded()    { m.Called() }
func (m *mockStats) IncBindErrors()   { m.Called() }
func (m *mockStats) IncSendErrors()   { m.Called() }

func replyBytes(t *testing.T, txSec, origSec, origFrac uint32) []byte {
	p := &protocol.Packet{
		Settings:     0x24,
		Stratum:      1,
		OrigTimeSec:  origSec,
		OrigTimeFrac: origFrac,
		TxTimeSec:    txSec,
	}
	b, err := p.Bytes()
	require.NoError(t, err)
	return b
}

func readInto(data []byte) func(b []byte) (int, error) {
	return func(b []byte) (int, error) {
		return copy(b, data), nil
	}
}

func newTestClient(t *testing.T, cfg *Config) (*Client, *MockTransport, *clockwork.FakeClock) {
	ctrl := gomock.NewController(t)
	transport := NewMockTransport(ctrl)
	clk := clockwork.NewFakeClock()
	c := New(cfg, transport)
	c.clock = clk
	return c, transport, clk
}

func TestEpoch(t *testing.T) {
	c, transport, _ := newTestClient(t, DefaultConfig())
	request := protocol.NewRequest()

	transport.EXPECT().Bind(2390).Return(nil)
	transport.EXPECT().SendTo("pool.ntp.org", 123, gomock.Any()).DoAndReturn(func(_ string, _ int, b []byte) error {
		require.Equal(t, request.Bytes(), b)
		return nil
	})
	transport.EXPECT().PollReceived().Return(true, nil)
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		require.Len(t, b, protocol.PacketSizeBytes)
		return copy(b, replyBytes(t, testNTPSeconds, 0, 0)), nil
	})

	epoch, err := c.Epoch(context.Background())
	require.NoError(t, err)
	require.Equal(t, testUnixSeconds, epoch)
	require.Equal(t, stateBound, c.state)
}

func TestEpochWaitsForReply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 0
	c, transport, clk := newTestClient(t, cfg)

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	gomock.InOrder(
		transport.EXPECT().PollReceived().DoAndReturn(func() (bool, error) {
			clk.Advance(400 * time.Millisecond)
			return false, nil
		}).Times(2),
		transport.EXPECT().PollReceived().Return(true, nil),
	)
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(readInto(replyBytes(t, protocol.UnixToNTPSeconds(42), 0, 0)))

	epoch, err := c.Epoch(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(42), epoch)
}

func TestEpochPollIntervalOnFakeClock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	c, transport, clk := newTestClient(t, cfg)

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	gomock.InOrder(
		transport.EXPECT().PollReceived().Return(false, nil),
		transport.EXPECT().PollReceived().Return(true, nil),
	)
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(readInto(replyBytes(t, testNTPSeconds, 0, 0)))

	go func() {
		// poll loop sleeps on the fake clock between checks
		clk.BlockUntil(1)
		clk.Advance(cfg.PollInterval)
	}()

	epoch, err := c.Epoch(context.Background())
	require.NoError(t, err)
	require.Equal(t, testUnixSeconds, epoch)
}

func TestGetEpochBindsOnce(t *testing.T) {
	c, transport, _ := newTestClient(t, DefaultConfig())

	transport.EXPECT().Bind(2390).Return(nil).Times(1)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)
	transport.EXPECT().PollReceived().Return(true, nil).Times(3)
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(readInto(replyBytes(t, testNTPSeconds, 0, 0))).Times(3)

	for i := 0; i < 3; i++ {
		require.Equal(t, testUnixSeconds, c.GetEpoch())
	}
}

func TestEpochBindError(t *testing.T) {
	c, transport, _ := newTestClient(t, DefaultConfig())
	st := &mockStats{}
	st.On("IncBindErrors").Return().Twice()
	c.SetStats(st)
	bindErr := errors.New("address already in use")

	// state stays unbound, so every call tries to bind again
	transport.EXPECT().Bind(2390).Return(bindErr).Times(2)

	_, err := c.Epoch(context.Background())
	require.ErrorIs(t, err, bindErr)
	require.Equal(t, stateUnbound, c.state)
	require.Equal(t, uint32(0), c.GetEpoch())
	st.AssertExpectations(t)
}

func TestEpochSendError(t *testing.T) {
	c, transport, _ := newTestClient(t, DefaultConfig())
	st := &mockStats{}
	st.On("IncSendErrors").Return().Once()
	c.SetStats(st)
	sendErr := errors.New("no such host")

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(sendErr)

	epoch, err := c.Epoch(context.Background())
	require.ErrorIs(t, err, sendErr)
	require.Equal(t, uint32(0), epoch)
	st.AssertExpectations(t)
}

func TestEpochTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 0
	c, transport, clk := newTestClient(t, cfg)
	st := &mockStats{}
	st.On("IncRequests").Return().Once()
	st.On("IncTimeouts").Return().Once()
	c.SetStats(st)
	step := 300 * time.Millisecond

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	// 300ms, 600ms, 900ms, 1200ms
	transport.EXPECT().PollReceived().DoAndReturn(func() (bool, error) {
		clk.Advance(step)
		return false, nil
	}).Times(4)

	start := clk.Now()
	epoch, err := c.Epoch(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, uint32(0), epoch)
	elapsed := clk.Since(start)
	require.GreaterOrEqual(t, elapsed, cfg.Timeout)
	require.LessOrEqual(t, elapsed, cfg.Timeout+step)
	st.AssertExpectations(t)
}

func TestGetEpochTimeoutRealClock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	ctrl := gomock.NewController(t)
	transport := NewMockTransport(ctrl)
	c := New(cfg, transport)

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	transport.EXPECT().PollReceived().Return(false, nil).MinTimes(1)

	start := time.Now()
	require.Equal(t, uint32(0), c.GetEpoch())
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, cfg.Timeout)
	// one poll interval plus scheduling slack
	require.Less(t, elapsed, cfg.Timeout+cfg.PollInterval+200*time.Millisecond)
}

func TestEpochShortReply(t *testing.T) {
	for _, size := range []int{0, 20, 43} {
		c, transport, _ := newTestClient(t, DefaultConfig())
		st := &mockStats{}
		st.On("IncRequests").Return().Once()
		st.On("IncShortReplies").Return().Once()
		c.SetStats(st)
		reply := replyBytes(t, testNTPSeconds, 0, 0)[:size]

		transport.EXPECT().Bind(gomock.Any()).Return(nil)
		transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		transport.EXPECT().PollReceived().Return(true, nil)
		transport.EXPECT().Read(gomock.Any()).DoAndReturn(readInto(reply))

		epoch, err := c.Epoch(context.Background())
		require.ErrorIs(t, err, protocol.ErrShortPacket, "size %d", size)
		require.Equal(t, uint32(0), epoch)
		st.AssertExpectations(t)
	}
}

func TestGetEpochShortReplyIsSentinel(t *testing.T) {
	c, transport, _ := newTestClient(t, DefaultConfig())

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	transport.EXPECT().PollReceived().Return(true, nil)
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(readInto([]byte{0xE3, 0, 6}))

	require.Equal(t, uint32(0), c.GetEpoch())
}

func TestEpochMinimalReply(t *testing.T) {
	c, transport, _ := newTestClient(t, DefaultConfig())

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	transport.EXPECT().PollReceived().Return(true, nil)
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(readInto(replyBytes(t, testNTPSeconds, 0, 0)[:protocol.MinResponseSizeBytes]))

	epoch, err := c.Epoch(context.Background())
	require.NoError(t, err)
	require.Equal(t, testUnixSeconds, epoch)
}

func TestEpochFirstReplyWins(t *testing.T) {
	c, transport, _ := newTestClient(t, DefaultConfig())

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	transport.EXPECT().PollReceived().Return(true, nil)
	// origin doesn't match anything we sent, but nobody checks it
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(readInto(replyBytes(t, testNTPSeconds, 1, 2)))

	epoch, err := c.Epoch(context.Background())
	require.NoError(t, err)
	require.Equal(t, testUnixSeconds, epoch)
}

func TestEpochVerifyOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerifyOrigin = true
	cfg.PollInterval = 0
	c, transport, _ := newTestClient(t, cfg)
	st := &mockStats{}
	st.On("IncRequests").Return().Once()
	st.On("IncDiscarded").Return().Once()
	st.On("IncResponses").Return().Once()
	c.SetStats(st)

	var sentSec, sentFrac uint32
	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(func(_ string, _ int, b []byte) error {
		packet, err := protocol.BytesToPacket(b)
		require.NoError(t, err)
		sentSec, sentFrac = packet.TxTimeSec, packet.TxTimeFrac
		// header is unchanged
		request := protocol.NewRequest()
		require.Equal(t, request[:protocol.OffsetTxTimeSec], b[:protocol.OffsetTxTimeSec])
		return nil
	})
	transport.EXPECT().PollReceived().Return(true, nil).Times(2)
	gomock.InOrder(
		transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
			return copy(b, replyBytes(t, protocol.UnixToNTPSeconds(1), sentSec+1, sentFrac)), nil
		}),
		transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
			return copy(b, replyBytes(t, testNTPSeconds, sentSec, sentFrac)), nil
		}),
	)

	epoch, err := c.Epoch(context.Background())
	require.NoError(t, err)
	require.Equal(t, testUnixSeconds, epoch)
	st.AssertExpectations(t)
}

func TestEpochVerifyOriginTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerifyOrigin = true
	cfg.PollInterval = 0
	c, transport, clk := newTestClient(t, cfg)

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	transport.EXPECT().PollReceived().DoAndReturn(func() (bool, error) {
		clk.Advance(500 * time.Millisecond)
		return true, nil
	}).Times(2)
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(readInto(replyBytes(t, testNTPSeconds, 0, 0))).Times(2)

	epoch, err := c.Epoch(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, uint32(0), epoch)
}

func TestEpochPollError(t *testing.T) {
	c, transport, _ := newTestClient(t, DefaultConfig())
	pollErr := errors.New("bad file descriptor")

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	transport.EXPECT().PollReceived().Return(false, pollErr)

	_, err := c.Epoch(context.Background())
	require.ErrorIs(t, err, pollErr)
}

func TestEpochReadError(t *testing.T) {
	c, transport, _ := newTestClient(t, DefaultConfig())
	readErr := errors.New("connection refused")

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	transport.EXPECT().PollReceived().Return(true, nil)
	transport.EXPECT().Read(gomock.Any()).Return(0, readErr)

	_, err := c.Epoch(context.Background())
	require.ErrorIs(t, err, readErr)
}

func TestEpochCanceled(t *testing.T) {
	c, transport, _ := newTestClient(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport.EXPECT().Bind(gomock.Any()).Return(nil)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	transport.EXPECT().PollReceived().Return(false, nil)

	epoch, err := c.Epoch(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, uint32(0), epoch)
}

func TestClose(t *testing.T) {
	c, transport, _ := newTestClient(t, DefaultConfig())

	// nothing to release yet
	require.NoError(t, c.Close())

	transport.EXPECT().Bind(gomock.Any()).Return(nil).Times(2)
	transport.EXPECT().SendTo(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	transport.EXPECT().PollReceived().Return(true, nil).Times(2)
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(readInto(replyBytes(t, testNTPSeconds, 0, 0))).Times(2)
	transport.EXPECT().Close().Return(nil).Times(1)

	require.Equal(t, testUnixSeconds, c.GetEpoch())
	require.NoError(t, c.Close())
	require.Equal(t, stateUnbound, c.state)
	require.Equal(t, testUnixSeconds, c.GetEpoch())
}

func TestConfigIsCopied(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, nil)
	cfg.Server = "changed.example.com"
	require.Equal(t, DefaultServer, c.Config().Server)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "UNBOUND", stateUnbound.String())
	require.Equal(t, "BOUND", stateBound.String())
}
