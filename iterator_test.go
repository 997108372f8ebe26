// Copyright 2015 Google Inc. All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package smalivm

import "testing"

func testItems(names ...string) []Item {
	table := newLabelTable()
	items := make([]Item, len(names))
	for i, n := range names {
		items[i] = table.intern(n)
	}
	return items
}

func TestIteratorLinear(t *testing.T) {
	items := testItems("a", "b", "c")
	it := newItemIterator(items)
	for i := 0; i < 3; i++ {
		item, ok := it.next()
		if !ok || item != items[i] {
			t.Fatalf("next #%d=%v,%v", i, item, ok)
		}
		if it.tell() != i {
			t.Errorf("tell=%d, want %d", it.tell(), i)
		}
	}
	if _, ok := it.next(); ok {
		t.Errorf("iterator must be exhausted")
	}
}

func TestIteratorSeekAndIndex(t *testing.T) {
	items := testItems("a", "b", "c")
	it := newItemIterator(items)
	if got := it.index(items[2]); got != 2 {
		t.Fatalf("index=%d, want 2", got)
	}
	it.seek(1)
	item, _ := it.next()
	if item != items[2] {
		t.Errorf("next after seek(1)=%v, want c", item)
	}
	if it.index(newLabelTable().intern("a")) != -1 {
		t.Errorf("foreign item must not be found")
	}
}

func TestIteratorStopResume(t *testing.T) {
	it := newItemIterator(testItems("a", "b"))
	it.stop()
	if _, ok := it.next(); ok {
		t.Fatalf("stopped iterator must not advance")
	}
	it.resume()
	if _, ok := it.next(); !ok {
		t.Errorf("resumed iterator must advance")
	}
}

func TestIteratorVisitedSkip(t *testing.T) {
	items := testItems("a", "b", "c")
	it := newItemIterator(items)
	it.trackVisited(true)
	it.next()
	it.next()
	it.seek(-1)
	item, ok := it.next()
	if !ok || item != items[2] {
		t.Errorf("next=%v,%v, want c (visited a and b skipped)", item, ok)
	}
}
