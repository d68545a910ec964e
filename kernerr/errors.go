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

// Package kernerr defines the sentinel error values that cross the
// kernel/userspace IPC boundary described in the async IPC framework.
//
// These mirror the errno-like return codes used throughout HelenOS'
// uspace/lib/c/generic/async.c and uspace/srv/net/udp: callers compare
// against these values with errors.Is rather than inspecting numeric
// codes directly, but a numeric retval is still available via Errno for
// code that must cross the fake kernel transport boundary as an int32.
package kernerr

import "fmt"

// Errno is the integer form of an error as it travels across the kernel
// call/answer boundary (spec.md's "retval"). Zero is success (EOK).
type Errno int32

const (
	EOK       Errno = 0
	ENOMEM    Errno = -1
	ENOENT    Errno = -2
	EHANGUP   Errno = -3
	ETIMEOUT  Errno = -4
	EINVAL    Errno = -5
	EIO       Errno = -6
	ENXIO     Errno = -7
	EBUSY     Errno = -8
)

var names = map[Errno]string{
	EOK:      "EOK",
	ENOMEM:   "ENOMEM",
	ENOENT:   "ENOENT",
	EHANGUP:  "EHANGUP",
	ETIMEOUT: "ETIMEOUT",
	EINVAL:   "EINVAL",
	EIO:      "EIO",
	ENXIO:    "ENXIO",
	EBUSY:    "EBUSY",
}

func (e Errno) String() string {
	if n, ok := names[e]; ok {
		return n
	}
	return fmt.Sprintf("Errno(%d)", int32(e))
}

// Error implements the error interface so an Errno can be returned and
// compared with errors.Is directly (EOK is never returned as an error;
// use ToError to get nil for EOK).
func (e Errno) Error() string {
	return e.String()
}

// ToError converts a retval to a Go error, returning nil for EOK.
func ToError(e Errno) error {
	if e == EOK {
		return nil
	}
	return e
}

// FromError converts an error produced by this package back to its
// numeric retval, for code that must hand a retval across the fake
// kernel transport. Unrecognized errors map to EIO.
func FromError(err error) Errno {
	if err == nil {
		return EOK
	}
	if e, ok := err.(Errno); ok {
		return e
	}
	return EIO
}

// Sentinel error values, exported as plain `error` for callers that
// prefer errors.Is(err, kernerr.ErrHangup) over comparing Errno.
var (
	ErrNoMem    error = ENOMEM
	ErrNoEnt    error = ENOENT
	ErrHangup   error = EHANGUP
	ErrTimeout  error = ETIMEOUT
	ErrInvalid  error = EINVAL
	ErrIO       error = EIO
	ErrNoSuchIO error = ENXIO
	ErrBusy     error = EBUSY
)
