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

func testBank(names ...string) *Registers {
	regs := make([]*Register, len(names))
	for i, n := range names {
		regs[i] = &Register{name: n}
	}
	return newRegisters(regs)
}

func TestRegistersWidePair(t *testing.T) {
	bank := testBank("v0", "v1", "v2")
	wide := newLiteral("0x100000000", "J")
	if _, err := bank.Set("v0", wide, true); err != nil {
		t.Fatalf("wide Set: %v", err)
	}
	v0, _ := bank.Get("v0")
	v1, _ := bank.Get("v1")
	if v0.pair != v1 || v1.pair != v0 {
		t.Fatalf("halves must back-link each other")
	}
	a, _ := v0.Value()
	b, _ := v1.Value()
	if a != b {
		t.Errorf("both halves must hold the same value")
	}
}

func TestRegistersNarrowWriteDissolvesPair(t *testing.T) {
	bank := testBank("v0", "v1")
	bank.Set("v0", newLiteral("0x1", "J"), true)
	if _, err := bank.Set("v0", newLiteral("0x2", "I"), false); err != nil {
		t.Fatalf("narrow Set: %v", err)
	}
	v0, _ := bank.Get("v0")
	v1, _ := bank.Get("v1")
	if v0.pair != nil || v1.pair != nil {
		t.Errorf("pair must dissolve on narrow write")
	}
	if v1.Initialized() {
		t.Errorf("other half must become uninitialized")
	}
	v, _ := v0.Value()
	if v.Raw() != "0x2" {
		t.Errorf("v0=%v, want 0x2", v)
	}
}

func TestRegistersHighHalfWriteDissolvesPair(t *testing.T) {
	bank := testBank("v0", "v1")
	bank.Set("v0", newLiteral("0x1", "J"), true)
	if _, err := bank.Set("v1", newLiteral("0x3", "I"), false); err != nil {
		t.Fatalf("Set high half: %v", err)
	}
	v0, _ := bank.Get("v0")
	v1, _ := bank.Get("v1")
	if v0.pair != nil || v1.pair != nil {
		t.Errorf("pair must dissolve on high-half write")
	}
	if v0.Initialized() {
		t.Errorf("low half must become uninitialized")
	}
	v, _ := v1.Value()
	if v.Raw() != "0x3" {
		t.Errorf("v1=%v, want 0x3", v)
	}
}

func TestRegistersCloneKeepsPairs(t *testing.T) {
	bank := testBank("v0", "v1")
	bank.Set("v0", newLiteral("0x1", "J"), true)
	cp := bank.clone()
	c0, _ := cp.Get("v0")
	c1, _ := cp.Get("v1")
	if c0.pair != c1 || c1.pair != c0 {
		t.Fatalf("clone must preserve the pair link between copies")
	}
	// Mutating the clone must not touch the original.
	cp.Set("v0", newLiteral("0x9", "I"), false)
	v0, _ := bank.Get("v0")
	v, _ := v0.Value()
	if v.Raw() != "0x1" {
		t.Errorf("original mutated through clone: %v", v)
	}
}

func TestRegistersErrors(t *testing.T) {
	bank := testBank("v0")
	if _, err := bank.Get("v7"); err == nil {
		t.Errorf("Get of undeclared register should fail")
	}
	if _, err := bank.Set("x0", newUnknown(), false); err == nil {
		t.Errorf("Set with invalid name should fail")
	}
	v0, _ := bank.Get("v0")
	if _, err := v0.Value(); err == nil {
		t.Errorf("Value of uninitialized register should fail")
	}
}
