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

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// PacketSizeBytes sets the size of NTP packet
const PacketSizeBytes = 48

// Byte offsets of the NTP header fields
const (
	OffsetSettings       = 0
	OffsetStratum        = 1
	OffsetPoll           = 2
	OffsetPrecision      = 3
	OffsetRootDelay      = 4
	OffsetRootDispersion = 8
	OffsetReferenceID    = 12
	OffsetRefTimeSec     = 16
	OffsetOrigTimeSec    = 24
	OffsetRxTimeSec      = 32
	OffsetTxTimeSec      = 40
)

// MinResponseSizeBytes is the shortest reply which still carries transmit timestamp seconds
const MinResponseSizeBytes = OffsetTxTimeSec + 4

// Static header of a client request
const (
	// RequestSettings is 0b11100011: LI alarm (unsynchronized), VN 4, client mode
	RequestSettings byte = 0xE3
	// RequestStratum is unspecified
	RequestStratum byte = 0
	// RequestPoll is log2 of the poll interval
	RequestPoll byte = 6
	// RequestPrecision is log2 of the clock precision, two's complement (-20)
	RequestPrecision byte = 0xEC
)

// RequestReferenceID is a fixed reference identifier tag with no meaning to servers
var RequestReferenceID = [4]byte{'1', 'N', '1', '4'}

// ErrShortPacket is returned when a reply is too short to carry a timestamp
var ErrShortPacket = errors.New("ntp packet is too short")

// Packet is an NTPv4 packet
/*
http://seriot.ch/ntp.php
https://tools.ietf.org/html/rfc958
   0                   1                   2                   3
   0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
0 +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |LI | VN  |Mode |    Stratum     |     Poll      |  Precision   |
4 +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                         Root Delay                            |
8 +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                         Root Dispersion                       |
12+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                          Reference ID                         |
16+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                                                               |
  +                     Reference Timestamp (64)                  +
  |                                                               |
24+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                                                               |
  +                      Origin Timestamp (64)                    +
  |                                                               |
32+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                                                               |
  +                      Receive Timestamp (64)                   +
  |                                                               |
40+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                                                               |
  +                      Transmit Timestamp (64)                  +
  |                                                               |
48+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

 0 1 2 3 4 5 6 7
+-+-+-+-+-+-+-+-+
|LI | VN  |Mode |
+-+-+-+-+-+-+-+-+
 1 1 1 0 0 0 1 1

Setting = LI | VN  |Mode. Request sent by this client:
11 100 011 (or 0xE3)
|  |   +-- client mode (3)
|  + ----- version (4)
+ -------- leap indicator, 3 clock unsynchronized
*/
type Packet struct {
	Settings       uint8  // leap year indicator, version number and mode
	Stratum        uint8  // stratum
	Poll           int8   // poll. Power of 2
	Precision      int8   // precision. Power of 2
	RootDelay      uint32 // total delay to the reference clock
	RootDispersion uint32 // total dispersion to the reference clock
	ReferenceID    uint32 // identifier of server or a reference clock
	RefTimeSec     uint32 // last time local clock was updated sec
	RefTimeFrac    uint32 // last time local clock was updated frac
	OrigTimeSec    uint32 // client time sec
	OrigTimeFrac   uint32 // client time frac
	RxTimeSec      uint32 // receive time sec
	RxTimeFrac     uint32 // receive time frac
	TxTimeSec      uint32 // transmit time sec
	TxTimeFrac     uint32 // transmit time frac
}

const (
	liNoWarning      = 0
	liAlarmCondition = 3
	vnFirst          = 1
	vnLast           = 4
	modeClient       = 3
	modeServer       = 4
)

func splitSettings(settings uint8) (li, vn, mode uint8) {
	return settings >> 6, (settings << 2) >> 5, (settings << 5) >> 5
}

// ValidSettingsFormat verifies that LI | VN  |Mode fields are set correctly
// for a client request:
// LN:must be 0 or 3
// VN:must be 1,2,3 or 4
// Mode:must be 3
func (p *Packet) ValidSettingsFormat() bool {
	l, v, m := splitSettings(p.Settings)
	if (l == liNoWarning) || (l == liAlarmCondition) {
		if (v >= vnFirst) && (v <= vnLast) {
			if m == modeClient {
				return true
			}
		}
	}
	return false
}

// IsServerReply reports whether Mode is set to server (4)
func (p *Packet) IsServerReply() bool {
	_, _, m := splitSettings(p.Settings)
	return m == modeServer
}

// Bytes converts Packet to []bytes
func (p *Packet) Bytes() ([]byte, error) {
	var bytes bytes.Buffer
	err := binary.Write(&bytes, binary.BigEndian, p)
	return bytes.Bytes(), err
}

// BytesToPacket converts []bytes to Packet
func BytesToPacket(ntpPacketBytes []byte) (*Packet, error) {
	packet := &Packet{}
	reader := bytes.NewReader(ntpPacketBytes)
	err := binary.Read(reader, binary.BigEndian, packet)
	return packet, err
}

// Request is a fixed-size NTP client request
type Request [PacketSizeBytes]byte

// NewRequest returns minimal client request: static header, reference ID tag
// and all timestamps left at zero
func NewRequest() Request {
	var r Request
	r[OffsetSettings] = RequestSettings
	r[OffsetStratum] = RequestStratum
	r[OffsetPoll] = RequestPoll
	r[OffsetPrecision] = RequestPrecision
	copy(r[OffsetReferenceID:OffsetRefTimeSec], RequestReferenceID[:])
	return r
}

// SetTransmitTime fills the transmit timestamp of the request
func (r *Request) SetTransmitTime(seconds, fractions uint32) {
	binary.BigEndian.PutUint32(r[OffsetTxTimeSec:], seconds)
	binary.BigEndian.PutUint32(r[OffsetTxTimeSec+4:], fractions)
}

// Bytes returns request as a slice backed by the request array
func (r *Request) Bytes() []byte {
	return r[:]
}

// TransmitSeconds returns seconds of the transmit timestamp from raw reply
func TransmitSeconds(b []byte) (uint32, error) {
	if len(b) < MinResponseSizeBytes {
		return 0, fmt.Errorf("%w: got %d bytes, need at least %d", ErrShortPacket, len(b), MinResponseSizeBytes)
	}
	return binary.BigEndian.Uint32(b[OffsetTxTimeSec:]), nil
}

// OriginTime returns seconds and fractions of the origin timestamp from raw reply
func OriginTime(b []byte) (seconds uint32, fractions uint32, err error) {
	if len(b) < OffsetRxTimeSec {
		return 0, 0, fmt.Errorf("%w: got %d bytes, need at least %d", ErrShortPacket, len(b), OffsetRxTimeSec)
	}
	return binary.BigEndian.Uint32(b[OffsetOrigTimeSec:]), binary.BigEndian.Uint32(b[OffsetOrigTimeSec+4:]), nil
}

// DecodeEpoch returns Unix epoch seconds of the transmit timestamp from raw reply.
// Only bytes 40-43 are used, anything beyond them is ignored.
func DecodeEpoch(b []byte) (uint32, error) {
	seconds, err := TransmitSeconds(b)
	if err != nil {
		return 0, err
	}
	return NTPToUnixSeconds(seconds), nil
}
