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

package asynctime

import "container/list"

// Entry is anything that can sit in a List: the correlator's *OutMsg is
// the only real implementation, but the interface keeps this package
// independent of the correlator (spec.md separates C2 "timed-wait
// primitive" from C3 "reply correlator").
type Entry interface {
	Deadline() Timeval
}

// List is the sorted timeout list from spec.md §4.2: a doubly-linked list
// of pending deadlines, insertion sorted ascending in O(n), removal O(1)
// given the *list.Element handle returned by Insert.
//
// List is not internally synchronized: spec.md §5 requires the timeout
// list to be guarded by the owning manager's async lock, so callers (the
// manager/correlator) must already hold that lock around every method
// call here, same as the teacher guards its cancelFuncs map with
// Connection.mu rather than giving the map its own lock.
type List struct {
	l list.List
}

// Insert adds e to the list in sorted position and returns the element
// handle needed later for Remove. O(n).
func (t *List) Insert(e Entry) *list.Element {
	d := e.Deadline()
	for el := t.l.Front(); el != nil; el = el.Next() {
		if d.Before(el.Value.(Entry).Deadline()) {
			return t.l.InsertBefore(e, el)
		}
	}
	return t.l.PushBack(e)
}

// Remove unlinks el. O(1).
func (t *List) Remove(el *list.Element) {
	t.l.Remove(el)
}

// Len returns the number of pending entries.
func (t *List) Len() int {
	return t.l.Len()
}

// NextDeadline returns the earliest pending deadline, if any. The manager
// loop uses this to compute how long to block in kernel_wait (spec.md
// §4.5).
func (t *List) NextDeadline() (Timeval, bool) {
	if f := t.l.Front(); f != nil {
		return f.Value.(Entry).Deadline(), true
	}
	return Timeval{}, false
}

// SortedAscending reports whether the list's deadlines are non-decreasing
// head to tail. It exists for invariant checks (spec.md §8's "the timeout
// list is sorted ascending by deadline at every yield point") and is
// O(n); callers should not run it on every operation in production code.
func (t *List) SortedAscending() bool {
	var prev Timeval
	havePrev := false
	for el := t.l.Front(); el != nil; el = el.Next() {
		d := el.Value.(Entry).Deadline()
		if havePrev && d.Before(prev) {
			return false
		}
		prev, havePrev = d, true
	}
	return true
}

// Sweep removes every entry whose deadline has passed (<= now) and
// returns them in ascending deadline order, implementing spec.md's
// sweep_expired: "walks head-forward, for each entry with deadline <=
// now: unlink...". Because the list is sorted, sweeping can stop at the
// first entry that has not yet expired.
func (t *List) Sweep(now Timeval) []Entry {
	var expired []Entry
	for {
		front := t.l.Front()
		if front == nil {
			break
		}
		e := front.Value.(Entry)
		if now.Before(e.Deadline()) {
			break
		}
		t.l.Remove(front)
		expired = append(expired, e)
	}
	return expired
}
