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

import (
	"fmt"
	"regexp"
	"strconv"
)

type registerError struct {
	name string
	what string
}

func (e registerError) Error() string {
	return fmt.Sprintf("register %s %s", e.name, e.what)
}

func errRegisterNotFound(name string) error {
	return registerError{name: name, what: "not found"}
}

func errRegisterNotInitialized(name string) error {
	return registerError{name: name, what: "not initialized"}
}

var registerNamePattern = regexp.MustCompile(`^[vp]\d+$`)

// Register is one slot of a method's register bank. A wide (64-bit) value
// occupies the register and its successor; both halves link to each other
// through pair, and overwriting either half dissolves the pair.
type Register struct {
	name string
	val  *Value
	pair *Register
}

func (r *Register) Name() string { return r.name }

func (r *Register) Initialized() bool { return r.val != nil }

// Value returns the register's current value; reading an uninitialized
// register is an error (catchable inside a try region).
func (r *Register) Value() (*Value, error) {
	if r.val == nil {
		return nil, errRegisterNotInitialized(r.name)
	}
	return r.val, nil
}

// hasValue reports whether the register holds something an operation can
// compute with: initialized and neither unknown nor ambiguous.
func (r *Register) hasValue() bool {
	if r.val == nil {
		return false
	}
	switch r.val.kind {
	case valUnknown, valAmbiguous, valNoValue:
		return false
	}
	return true
}

func (r *Register) reset() {
	r.val = nil
	r.pair = nil
}

// Registers is the fixed-size register bank of one in-flight method
// execution. It is never shared across goroutines.
type Registers struct {
	regs []*Register
}

func newRegisters(regs []*Register) *Registers {
	return &Registers{regs: regs}
}

// Get resolves a register by name.
func (c *Registers) Get(name string) (*Register, error) {
	for _, r := range c.regs {
		if r.name == name {
			return r, nil
		}
	}
	return nil, errRegisterNotFound(name)
}

// All returns the bank in declaration order.
func (c *Registers) All() []*Register { return c.regs }

// dissolve breaks the pair reg participates in, if any, leaving the
// other half uninitialized. Both halves carry a back-link, so this works
// from either side.
func dissolve(reg *Register) {
	if reg.pair == nil {
		return
	}
	other := reg.pair
	reg.pair = nil
	other.pair = nil
	other.val = nil
}

// Set writes value into the named register. A wide write pairs the
// register with its successor; any write into either half of an existing
// pair dissolves that pair atomically first.
func (c *Registers) Set(name string, v *Value, wide bool) (*Register, error) {
	if !registerNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid register name: %q", name)
	}
	reg, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	dissolve(reg)
	if !wide {
		reg.val = v
		return reg, nil
	}
	pairName, err := incrementRegister(name)
	if err != nil {
		return nil, err
	}
	pair, err := c.Get(pairName)
	if err != nil {
		return nil, err
	}
	dissolve(pair)
	reg.pair = pair
	pair.pair = reg
	reg.val = v
	pair.val = v
	return reg, nil
}

// clone copies the bank for a speculative exploration, preserving the
// pair links between the copied halves.
func (c *Registers) clone() *Registers {
	copies := make(map[string]*Register, len(c.regs))
	regs := make([]*Register, 0, len(c.regs))
	for _, r := range c.regs {
		nr := &Register{name: r.name}
		if r.val != nil {
			nr.val = r.val.clone()
		}
		copies[r.name] = nr
		regs = append(regs, nr)
	}
	for _, r := range c.regs {
		if r.pair != nil {
			if p, ok := copies[r.pair.name]; ok {
				copies[r.name].pair = p
			}
		}
	}
	return newRegisters(regs)
}

func incrementRegister(name string) (string, error) {
	kind := name[0]
	if kind != 'v' && kind != 'p' {
		return "", fmt.Errorf("invalid register type: %q", string(kind))
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil {
		return "", fmt.Errorf("invalid register name: %q", name)
	}
	return fmt.Sprintf("%c%d", kind, n+1), nil
}
