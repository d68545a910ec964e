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

// Package asynctime implements spec.md's monotonic Timeval (§3) and the
// single process-wide (per manager) timeout list (§4.2, component C2).
//
// Grounded on github.com/jacobsa/timeutil's Clock abstraction (as used by
// samples/hellofs/hello_fs.go and samples/mount_hello/mount.go in the
// teacher): time is obtained through an injected timeutil.Clock rather
// than time.Now() directly, so tests can swap in a
// timeutil.SimulatedClock and deterministically exercise spec.md §8
// scenario 4 (wait_timeout returning ETIMEOUT within a bounded window)
// without sleeping for real.
package asynctime

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// Timeval is seconds + normalized microseconds, matching spec.md §3's
// monotonic timeval: 0 <= Usec < 1_000_000 is the invariant maintained by
// every operation below.
type Timeval struct {
	Sec  int64
	Usec int64
}

// Normalize folds any usec magnitude back into the documented range,
// adjusting Sec accordingly. It is idempotent.
func (t Timeval) Normalize() Timeval {
	sec := t.Sec + t.Usec/1_000_000
	usec := t.Usec % 1_000_000
	if usec < 0 {
		usec += 1_000_000
		sec--
	}
	return Timeval{Sec: sec, Usec: usec}
}

// AddMicroseconds returns t advanced by usec (which may be negative),
// normalized.
func (t Timeval) AddMicroseconds(usec int64) Timeval {
	return Timeval{Sec: t.Sec, Usec: t.Usec + usec}.Normalize()
}

// Compare returns -1, 0 or 1 as t is before, equal to, or after other.
func (t Timeval) Compare(other Timeval) int {
	a, b := t.Normalize(), other.Normalize()
	switch {
	case a.Sec != b.Sec:
		if a.Sec < b.Sec {
			return -1
		}
		return 1
	case a.Usec != b.Usec:
		if a.Usec < b.Usec {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Before reports whether t happens strictly before other.
func (t Timeval) Before(other Timeval) bool {
	return t.Compare(other) < 0
}

// SubMicroseconds returns the number of microseconds from other to t
// (positive if t is after other), per spec.md §3's "subtract (yielding
// microseconds)" operation.
func (t Timeval) SubMicroseconds(other Timeval) int64 {
	a, b := t.Normalize(), other.Normalize()
	return (a.Sec-b.Sec)*1_000_000 + (a.Usec - b.Usec)
}

// FromTime converts a time.Time (as returned by a timeutil.Clock) to a
// Timeval.
func FromTime(t time.Time) Timeval {
	return Timeval{Sec: t.Unix(), Usec: int64(t.Nanosecond() / 1000)}.Normalize()
}

// Now returns the current time from clock as a Timeval. Passing nil uses
// timeutil.RealClock(), matching the teacher's
// `timeutil.RealClock()` default-construction idiom.
func Now(clock timeutil.Clock) Timeval {
	if clock == nil {
		clock = timeutil.RealClock()
	}
	return FromTime(clock.Now())
}
