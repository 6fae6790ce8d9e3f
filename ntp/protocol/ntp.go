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
Package protocol implements minimal NTP client packet and basic functions to work with.
It builds fixed 48 bytes client request and decodes transmit timestamp of a reply
without allocating.
*/
package protocol

import (
	"time"
)

// SecondsToUnix is the difference between NTP and Unix epoch in seconds
const SecondsToUnix = uint32(2208988800)

// NanosecondsToUnix is the difference between NTP and Unix epoch in NS
const NanosecondsToUnix = int64(SecondsToUnix) * int64(time.Second)

// NTPToUnixSeconds converts seconds since 1900 to seconds since 1970.
// Subtraction wraps around, values before 1970 turn into large numbers.
func NTPToUnixSeconds(seconds uint32) uint32 {
	return seconds - SecondsToUnix
}

// UnixToNTPSeconds converts seconds since 1970 to seconds since 1900
func UnixToNTPSeconds(seconds uint32) uint32 {
	return seconds + SecondsToUnix
}

// Time is converting Unix time to sec and frac NTP format
func Time(t time.Time) (seconds uint32, fracions uint32) {
	nsec := t.UnixNano() + NanosecondsToUnix
	sec := nsec / time.Second.Nanoseconds()
	return uint32(sec), uint32((nsec - sec*time.Second.Nanoseconds()) << 32 / time.Second.Nanoseconds())
}

// Unix is converting NTP seconds and fractions into Unix time
func Unix(seconds, fractions uint32) time.Time {
	secs := int64(seconds) - NanosecondsToUnix/time.Second.Nanoseconds()
	nanos := (int64(fractions) * time.Second.Nanoseconds()) >> 32 // convert fractional to nanos
	return time.Unix(secs, nanos)
}
