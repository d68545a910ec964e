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

import "testing"

type fakeEntry struct {
	name     string
	deadline Timeval
}

func (e *fakeEntry) Deadline() Timeval { return e.deadline }

func TestInsertKeepsListSortedAscending(t *testing.T) {
	var l List

	e3 := &fakeEntry{"c", Timeval{Sec: 3}}
	e1 := &fakeEntry{"a", Timeval{Sec: 1}}
	e2 := &fakeEntry{"b", Timeval{Sec: 2}}

	l.Insert(e3)
	l.Insert(e1)
	l.Insert(e2)

	if !l.SortedAscending() {
		t.Fatalf("list not sorted after inserts")
	}

	dl, ok := l.NextDeadline()
	if !ok || dl != e1.deadline {
		t.Fatalf("NextDeadline() = %+v, %v; want %+v, true", dl, ok, e1.deadline)
	}
}

func TestRemoveDetachesEntry(t *testing.T) {
	var l List

	e1 := &fakeEntry{"a", Timeval{Sec: 1}}
	e2 := &fakeEntry{"b", Timeval{Sec: 2}}

	el1 := l.Insert(e1)
	l.Insert(e2)
	l.Remove(el1)

	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	dl, _ := l.NextDeadline()
	if dl != e2.deadline {
		t.Fatalf("NextDeadline() = %+v, want %+v", dl, e2.deadline)
	}
}

func TestSweepRemovesOnlyExpiredEntriesInOrder(t *testing.T) {
	var l List

	e1 := &fakeEntry{"a", Timeval{Sec: 1}}
	e2 := &fakeEntry{"b", Timeval{Sec: 2}}
	e3 := &fakeEntry{"c", Timeval{Sec: 5}}

	l.Insert(e3)
	l.Insert(e1)
	l.Insert(e2)

	expired := l.Sweep(Timeval{Sec: 2})
	if len(expired) != 2 {
		t.Fatalf("Sweep() returned %d entries, want 2", len(expired))
	}
	if expired[0].(*fakeEntry).name != "a" || expired[1].(*fakeEntry).name != "b" {
		t.Fatalf("Sweep() returned entries out of order: %+v", expired)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() after sweep = %d, want 1", l.Len())
	}
	dl, _ := l.NextDeadline()
	if dl != e3.deadline {
		t.Fatalf("remaining entry = %+v, want %+v", dl, e3.deadline)
	}
}

func TestSweepOfEmptyListReturnsNothing(t *testing.T) {
	var l List
	if expired := l.Sweep(Timeval{Sec: 100}); len(expired) != 0 {
		t.Fatalf("Sweep() on empty list returned %d entries", len(expired))
	}
}
