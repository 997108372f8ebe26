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
	"strings"

	"github.com/golang/glog"
)

// BreakpointFunc observes an instruction. Returning false halts the
// current execution leaf.
type BreakpointFunc func(regs *Registers, ins *Instruction) bool

// PredicateFunc selects instructions for a predicate breakpoint.
type PredicateFunc func(regs *Registers, ins *Instruction) bool

// StringFunc observes a string value becoming visible in a register.
// Returning false halts the current execution leaf.
type StringFunc func(regs *Registers, ins *Instruction, reg *Register, value string) bool

// Handle identifies a registered breakpoint for removal.
type Handle int

type predicateEntry struct {
	cond PredicateFunc
	fn   BreakpointFunc
}

// Breakpoints is the observer bus: callbacks keyed by exact instruction
// identity, by user predicate, or by value type (strings). Instruction
// and predicate observers fire before the instruction executes; value
// observers fire after.
type Breakpoints struct {
	nextHandle Handle
	byIns      map[*Instruction]map[Handle]BreakpointFunc
	byCond     map[Handle]predicateEntry
	byString   map[Handle]StringFunc
}

func NewBreakpoints() *Breakpoints {
	return &Breakpoints{
		byIns:    make(map[*Instruction]map[Handle]BreakpointFunc),
		byCond:   make(map[Handle]predicateEntry),
		byString: make(map[Handle]StringFunc),
	}
}

func (b *Breakpoints) handle() Handle {
	b.nextHandle++
	return b.nextHandle
}

// AddByInstruction fires fn before every execution of exactly ins.
func (b *Breakpoints) AddByInstruction(ins *Instruction, fn BreakpointFunc) Handle {
	h := b.handle()
	if b.byIns[ins] == nil {
		b.byIns[ins] = make(map[Handle]BreakpointFunc)
	}
	b.byIns[ins][h] = fn
	return h
}

// AddByPredicate fires fn before every instruction cond accepts.
func (b *Breakpoints) AddByPredicate(cond PredicateFunc, fn BreakpointFunc) Handle {
	h := b.handle()
	b.byCond[h] = predicateEntry{cond: cond, fn: fn}
	return h
}

// AddByValueType fires fn after any instruction that makes a value of
// the given type visible in a register. Only "string" is supported.
func (b *Breakpoints) AddByValueType(valueType string, fn StringFunc) Handle {
	h := b.handle()
	if valueType != "string" {
		glog.Warningf("unsupported value-type breakpoint %q ignored", valueType)
		return h
	}
	b.byString[h] = fn
	return h
}

// Remove drops a breakpoint by handle; unknown handles are ignored.
func (b *Breakpoints) Remove(h Handle) {
	for ins, m := range b.byIns {
		if _, ok := m[h]; ok {
			delete(m, h)
			if len(m) == 0 {
				delete(b.byIns, ins)
			}
			return
		}
	}
	if _, ok := b.byCond[h]; ok {
		delete(b.byCond, h)
		return
	}
	delete(b.byString, h)
}

// triggerBefore runs instruction and predicate observers; false means
// some observer cancelled the execution leaf.
func (b *Breakpoints) triggerBefore(ins *Instruction, regs *Registers) bool {
	ret := true
	for _, fn := range b.byIns[ins] {
		if !fn(regs, ins) {
			ret = false
		}
	}
	for _, e := range b.byCond {
		if e.cond(regs, ins) && !e.fn(regs, ins) {
			ret = false
		}
	}
	return ret
}

// triggerAfter runs value-type observers for strings surfaced by ins.
func (b *Breakpoints) triggerAfter(ins *Instruction, regs *Registers, it *itemIterator) bool {
	if len(b.byString) == 0 {
		return true
	}
	ret := true
	fire := func(reg *Register, value string) {
		for _, fn := range b.byString {
			if !fn(regs, ins, reg, value) {
				ret = false
			}
		}
	}
	switch {
	case ins.isStringConst():
		reg, err := regs.Get(ins.reg(0))
		if err != nil || !reg.hasValue() {
			return ret
		}
		v, _ := reg.Value()
		if v.IsNull() {
			return ret
		}
		if s, err := v.Str(); err == nil {
			fire(reg, s)
		}
	case ins.Op == "move-result-object":
		prev := it.prevInstruction()
		if prev == nil {
			return ret
		}
		switch {
		case prev.isInvoke():
			if prev.InvokeReturnType() != "Ljava/lang/String;" {
				return ret
			}
			reg, err := regs.Get(ins.reg(0))
			if err != nil || !reg.hasValue() {
				return ret
			}
			v, _ := reg.Value()
			if v.IsNull() {
				return ret
			}
			if s, err := v.Str(); err == nil {
				fire(reg, s)
			}
		case prev.Op == "filled-new-array" || prev.Op == "filled-new-array/range":
			i := strings.LastIndexByte(prev.Data, '[')
			if i < 0 || prev.Data[i+1:] != "Ljava/lang/String;" {
				return ret
			}
			reg, err := regs.Get(ins.reg(0))
			if err != nil || !reg.hasValue() {
				return ret
			}
			v, _ := reg.Value()
			arr, err := v.Array()
			if err != nil {
				return ret
			}
			for _, el := range arr.Elements() {
				if s, err := el.Str(); err == nil {
					fire(reg, s)
				}
			}
		}
	}
	return ret
}
