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
	"math"
	"strings"

	"github.com/golang/glog"
)

// maxExploreDepth caps branch fan-out nesting; hitting it truncates
// exploration.
const maxExploreDepth = 10

type divisionByZeroError struct{}

func (divisionByZeroError) Error() string { return "division by zero" }

type abstractMethodError struct {
	sig string
}

func (e abstractMethodError) Error() string {
	return fmt.Sprintf("method %s has no body", e.sig)
}

// isFatalRunError separates errors no catch handler may swallow from
// value/register errors an active try region catches.
func isFatalRunError(err error) bool {
	switch err.(type) {
	case unsupportedOpcodeError, parseError:
		return true
	}
	return false
}

// invokeStack records the full signatures of active invokes; an invoke
// already on the stack is recursive and is skipped.
type invokeStack struct {
	entries []string
}

func (s *invokeStack) contains(sig string) bool {
	for _, e := range s.entries {
		if e == sig {
			return true
		}
	}
	return false
}

func (s *invokeStack) push(sig string) { s.entries = append(s.entries, sig) }
func (s *invokeStack) pop()            { s.entries = s.entries[:len(s.entries)-1] }

// runner drives one method body: instruction iteration, register
// mutation, breakpoint firing and control-flow handling.
type runner struct {
	it      *itemIterator
	regs    *Registers
	vm      *VM
	method  *Method
	bps     *Breakpoints
	service *Breakpoints // engine-internal blocking breakpoints
	invokes *invokeStack

	lastResult *Value
	returned   *Value
	inTry      bool
	depth      int
}

func newRunner(items []Item, regs *Registers, vm *VM, method *Method, bps *Breakpoints, invokes *invokeStack) *runner {
	return &runner{
		it:      newItemIterator(items),
		regs:    regs,
		vm:      vm,
		method:  method,
		bps:     bps,
		service: NewBreakpoints(),
		invokes: invokes,
	}
}

func (r *runner) set(name string, v *Value, wide bool) error {
	_, err := r.regs.Set(name, v, wide)
	return err
}

// operand returns the computable value of a register: nil when the
// register is uninitialized or unknown, the value otherwise (ambiguous
// values are computable; operations spread over them pointwise).
func (r *runner) operand(name string) (*Value, error) {
	reg, err := r.regs.Get(name)
	if err != nil {
		return nil, err
	}
	if !reg.Initialized() {
		return nil, nil
	}
	v, err := reg.Value()
	if err != nil {
		return nil, err
	}
	switch v.kind {
	case valUnknown, valNoValue:
		return nil, nil
	}
	return v, nil
}

// run executes from the iterator's current position until the leaf
// returns, throws, is cancelled by an observer, or runs out of
// instructions. It is re-entered for taken branches and gotos.
func (r *runner) run() (*Value, error) {
	for {
		item, ok := r.it.next()
		if !ok {
			break
		}
		prevResult := r.lastResult
		ins, isIns := item.(*Instruction)
		if isIns {
			if !r.bps.triggerBefore(ins, r.regs) || !r.service.triggerBefore(ins, r.regs) {
				r.it.stop()
				break
			}
		}
		if err := r.step(item); err != nil {
			if isFatalRunError(err) || !r.inTry {
				return nil, err
			}
			glog.V(2).Infof("%s: caught %v, seeking handler", r.method.FullSignature(), err)
			if !r.seekToCatch() {
				return nil, err
			}
			continue
		}
		if isIns {
			if !r.bps.triggerAfter(ins, r.regs, r.it) || !r.service.triggerAfter(ins, r.regs, r.it) {
				r.it.stop()
				break
			}
		}
		// A staged invoke result survives exactly one following
		// instruction.
		if prevResult != nil && prevResult == r.lastResult {
			r.lastResult = nil
		}
	}
	return r.returned, nil
}

// seekToCatch advances to the next catch directive, leaving the iterator
// positioned so execution resumes right after it.
func (r *runner) seekToCatch() bool {
	for {
		item, ok := r.it.next()
		if !ok {
			return false
		}
		if _, isCatch := item.(*CatchDirective); isCatch {
			return true
		}
	}
}

func (r *runner) step(item Item) error {
	switch it := item.(type) {
	case *Label:
		if !r.inTry && strings.HasPrefix(it.Name, "try_start_") {
			r.inTry = true
		} else if r.inTry && strings.HasPrefix(it.Name, "try_end_") {
			r.inTry = false
		}
		return nil
	case *Instruction:
		return r.exec(it)
	}
	// Directives carry no execution semantics at run time.
	return nil
}

func (r *runner) exec(ins *Instruction) error {
	switch ins.Op {
	case "nop", "monitor-enter", "monitor-exit", "check-cast":
		return nil

	case "return-void":
		r.it.stop()
		return nil
	case "return", "return-object", "return-wide":
		r.it.stop()
		reg, err := r.regs.Get(ins.reg(0))
		if err != nil {
			return err
		}
		if reg.Initialized() {
			v, _ := reg.Value()
			if v.kind == valFramework && !v.fw.Initialized() {
				return nil
			}
			r.returned = v
		}
		return nil

	case "throw":
		if r.inTry && r.seekToCatch() {
			return nil
		}
		r.it.stop()
		return nil

	case "const/4", "const/16", "const", "const/high16":
		return r.set(ins.reg(0), newLiteral(ins.Data, ""), false)
	case "const-wide", "const-wide/16", "const-wide/32", "const-wide/high16":
		return r.set(ins.reg(0), newLiteral(ins.Data, ""), true)
	case "const-string", "const-string/jumbo":
		return r.set(ins.reg(0), newStringValue(ins.Data), false)
	case "const-class", "const-method-handle", "const-method-type":
		return r.set(ins.reg(0), newUnknown(), false)

	case "move", "move/from16", "move/16", "move-object", "move-object/from16", "move-object/16":
		return r.execMove(ins, false)
	case "move-wide", "move-wide/from16", "move-wide/16":
		return r.execMove(ins, true)

	case "move-result", "move-result-object", "move-exception":
		return r.execMoveResult(ins, false)
	case "move-result-wide":
		return r.execMoveResult(ins, true)

	case "if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le":
		return r.execIf(ins)
	case "if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez":
		return r.execIfz(ins)
	case "goto", "goto/16", "goto/32":
		return r.execGoto(ins)
	case "packed-switch":
		return r.execPackedSwitch(ins)
	case "sparse-switch":
		return r.execSparseSwitch(ins)

	case "instance-of":
		return r.set(ins.reg(0), newUnknown(), false)

	case "new-instance":
		return r.execNewInstance(ins)
	case "new-array":
		return r.execNewArray(ins)
	case "array-length":
		return r.execArrayLength(ins)
	case "filled-new-array", "filled-new-array/range":
		return r.execFilledNewArray(ins)
	case "fill-array-data":
		return r.execFillArrayData(ins)

	case "aget", "aget-wide", "aget-object", "aget-boolean", "aget-byte", "aget-char", "aget-short":
		return r.execAget(ins)
	case "aput", "aput-wide", "aput-object", "aput-boolean", "aput-byte", "aput-char", "aput-short":
		return r.execAput(ins)

	// Field state does not survive method boundaries in this engine:
	// gets are Unknown, puts are no-ops.
	case "iget", "iget-wide", "iget-object", "iget-boolean", "iget-byte", "iget-char", "iget-short",
		"sget", "sget-wide", "sget-object", "sget-boolean", "sget-byte", "sget-char", "sget-short":
		return r.set(ins.reg(0), newUnknown(), false)
	case "iput", "iput-wide", "iput-object", "iput-boolean", "iput-byte", "iput-char", "iput-short",
		"sput", "sput-wide", "sput-object", "sput-boolean", "sput-byte", "sput-char", "sput-short":
		return nil

	case "invoke-virtual", "invoke-super", "invoke-direct", "invoke-static", "invoke-interface",
		"invoke-polymorphic", "invoke-custom",
		"invoke-virtual/range", "invoke-super/range", "invoke-direct/range", "invoke-static/range",
		"invoke-interface/range", "invoke-polymorphic/range", "invoke-custom/range":
		return r.execInvoke(ins)

	case "cmpl-float", "cmpg-float":
		return r.execCmpFloat(ins, (*Value).Float, ins.Op == "cmpg-float")
	case "cmpl-double", "cmpg-double":
		return r.execCmpFloat(ins, (*Value).Double, ins.Op == "cmpg-double")
	case "cmp-long":
		return r.execCmpLong(ins)

	case "neg-int":
		return r.unaryInt(ins, func(x int32) (int32, error) { return -x, nil })
	case "not-int":
		return r.unaryInt(ins, func(x int32) (int32, error) { return ^x, nil })
	case "neg-long":
		return r.unaryLong(ins, func(x int64) (int64, error) { return -x, nil })
	case "not-long":
		return r.unaryLong(ins, func(x int64) (int64, error) { return ^x, nil })
	case "neg-float":
		return r.unaryFloat(ins, func(x float64) float64 { return -x })
	case "neg-double":
		return r.unaryDouble(ins, func(x float64) float64 { return -x })

	case "add-int", "add-int/2addr":
		return r.binInt(ins, func(x, y int32) (int32, error) { return x + y, nil })
	case "sub-int", "sub-int/2addr":
		return r.binInt(ins, func(x, y int32) (int32, error) { return x - y, nil })
	case "mul-int", "mul-int/2addr":
		return r.binInt(ins, func(x, y int32) (int32, error) { return x * y, nil })
	case "div-int", "div-int/2addr":
		return r.binInt(ins, divInt32)
	case "rem-int", "rem-int/2addr":
		return r.binInt(ins, remInt32)
	case "and-int", "and-int/2addr":
		return r.binInt(ins, func(x, y int32) (int32, error) { return x & y, nil })
	case "or-int", "or-int/2addr":
		return r.binInt(ins, func(x, y int32) (int32, error) { return x | y, nil })
	case "xor-int", "xor-int/2addr":
		return r.binInt(ins, func(x, y int32) (int32, error) { return x ^ y, nil })
	case "shl-int", "shl-int/2addr":
		return r.binInt(ins, shlInt32)
	case "shr-int", "shr-int/2addr":
		return r.binInt(ins, shrInt32)
	case "ushr-int", "ushr-int/2addr":
		return r.binInt(ins, ushrInt32)

	case "add-int/lit8", "add-int/lit16":
		return r.binInt(ins, func(x, y int32) (int32, error) { return x + y, nil })
	case "rsub-int", "rsub-int/lit8":
		return r.binInt(ins, func(x, y int32) (int32, error) { return y - x, nil })
	case "mul-int/lit8", "mul-int/lit16":
		return r.binInt(ins, func(x, y int32) (int32, error) { return x * y, nil })
	case "div-int/lit8", "div-int/lit16":
		return r.binInt(ins, divInt32)
	case "rem-int/lit8", "rem-int/lit16":
		return r.binInt(ins, remInt32)
	case "and-int/lit8", "and-int/lit16":
		return r.binInt(ins, func(x, y int32) (int32, error) { return x & y, nil })
	case "or-int/lit8", "or-int/lit16":
		return r.binInt(ins, func(x, y int32) (int32, error) { return x | y, nil })
	case "xor-int/lit8", "xor-int/lit16":
		return r.binInt(ins, func(x, y int32) (int32, error) { return x ^ y, nil })
	case "shl-int/lit8":
		return r.binInt(ins, shlInt32)
	case "shr-int/lit8":
		return r.binInt(ins, shrInt32)
	case "ushr-int/lit8":
		return r.binInt(ins, ushrInt32)

	case "add-long", "add-long/2addr":
		return r.binLong(ins, func(x, y int64) (int64, error) { return x + y, nil })
	case "sub-long", "sub-long/2addr":
		return r.binLong(ins, func(x, y int64) (int64, error) { return x - y, nil })
	case "mul-long", "mul-long/2addr":
		return r.binLong(ins, func(x, y int64) (int64, error) { return x * y, nil })
	case "div-long", "div-long/2addr":
		return r.binLong(ins, divInt64)
	case "rem-long", "rem-long/2addr":
		return r.binLong(ins, remInt64)
	case "and-long", "and-long/2addr":
		return r.binLong(ins, func(x, y int64) (int64, error) { return x & y, nil })
	case "or-long", "or-long/2addr":
		return r.binLong(ins, func(x, y int64) (int64, error) { return x | y, nil })
	case "xor-long", "xor-long/2addr":
		return r.binLong(ins, func(x, y int64) (int64, error) { return x ^ y, nil })
	case "shl-long", "shl-long/2addr":
		return r.binLong(ins, shlInt64)
	case "shr-long", "shr-long/2addr":
		return r.binLong(ins, shrInt64)
	case "ushr-long", "ushr-long/2addr":
		return r.binLong(ins, ushrInt64)

	case "add-float", "add-float/2addr":
		return r.binFloat(ins, func(x, y float64) float64 { return x + y })
	case "sub-float", "sub-float/2addr":
		return r.binFloat(ins, func(x, y float64) float64 { return x - y })
	case "mul-float", "mul-float/2addr":
		return r.binFloat(ins, func(x, y float64) float64 { return x * y })
	case "div-float", "div-float/2addr":
		return r.binFloat(ins, func(x, y float64) float64 { return x / y })
	case "rem-float", "rem-float/2addr":
		return r.binFloat(ins, math.Mod)

	case "add-double", "add-double/2addr":
		return r.binDouble(ins, func(x, y float64) float64 { return x + y })
	case "sub-double", "sub-double/2addr":
		return r.binDouble(ins, func(x, y float64) float64 { return x - y })
	case "mul-double", "mul-double/2addr":
		return r.binDouble(ins, func(x, y float64) float64 { return x * y })
	case "div-double", "div-double/2addr":
		return r.binDouble(ins, func(x, y float64) float64 { return x / y })
	case "rem-double", "rem-double/2addr":
		return r.binDouble(ins, math.Mod)

	case "int-to-long":
		return r.convert(ins, true, func(v *Value) (*Value, error) {
			n, err := v.Int()
			if err != nil {
				return nil, err
			}
			return newLiteral(hexInt64(int64(int32(n))), "J"), nil
		})
	case "long-to-int":
		return r.convert(ins, false, func(v *Value) (*Value, error) {
			n, err := v.Long()
			if err != nil {
				return nil, err
			}
			return newLiteral(hexInt32(int32(n)), "I"), nil
		})
	case "int-to-float":
		return r.convert(ins, false, func(v *Value) (*Value, error) {
			n, err := v.Int()
			if err != nil {
				return nil, err
			}
			return newLiteral(formatFloat(float64(float32(int32(n)))), "F"), nil
		})
	case "int-to-double":
		return r.convert(ins, true, func(v *Value) (*Value, error) {
			n, err := v.Int()
			if err != nil {
				return nil, err
			}
			return newLiteral(formatFloat(float64(int32(n))), "D"), nil
		})
	case "long-to-float":
		return r.convert(ins, false, func(v *Value) (*Value, error) {
			n, err := v.Long()
			if err != nil {
				return nil, err
			}
			return newLiteral(formatFloat(float64(float32(n))), "F"), nil
		})
	case "long-to-double":
		return r.convert(ins, true, func(v *Value) (*Value, error) {
			n, err := v.Long()
			if err != nil {
				return nil, err
			}
			return newLiteral(formatFloat(float64(n)), "D"), nil
		})
	case "float-to-int":
		return r.convert(ins, false, func(v *Value) (*Value, error) {
			f, err := v.Float()
			if err != nil {
				return nil, err
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return newUnknown(), nil
			}
			return newLiteral(hexSigned(int64(int32(f))), "I"), nil
		})
	case "float-to-long":
		return r.convert(ins, true, func(v *Value) (*Value, error) {
			f, err := v.Float()
			if err != nil {
				return nil, err
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return newUnknown(), nil
			}
			return newLiteral(hexSigned(int64(f)), "J"), nil
		})
	case "float-to-double":
		return r.convert(ins, true, func(v *Value) (*Value, error) {
			f, err := v.Float()
			if err != nil {
				return nil, err
			}
			return newLiteral(formatFloat(f), "D"), nil
		})
	case "double-to-int":
		return r.convert(ins, false, func(v *Value) (*Value, error) {
			f, err := v.Double()
			if err != nil {
				return nil, err
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return newUnknown(), nil
			}
			return newLiteral(hexSigned(int64(int32(f))), "I"), nil
		})
	case "double-to-long":
		return r.convert(ins, true, func(v *Value) (*Value, error) {
			f, err := v.Double()
			if err != nil {
				return nil, err
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return newUnknown(), nil
			}
			return newLiteral(hexSigned(int64(f)), "J"), nil
		})
	case "double-to-float":
		return r.convert(ins, false, func(v *Value) (*Value, error) {
			f, err := v.Double()
			if err != nil {
				return nil, err
			}
			return newLiteral(formatFloat(float64(float32(f))), "F"), nil
		})
	case "int-to-byte":
		return r.convert(ins, false, func(v *Value) (*Value, error) {
			n, err := v.Int()
			if err != nil {
				return nil, err
			}
			return newLiteral(hexSigned(n&0xff), "B"), nil
		})
	case "int-to-char":
		return r.convert(ins, false, func(v *Value) (*Value, error) {
			n, err := v.Int()
			if err != nil {
				return nil, err
			}
			return newLiteral(hexSigned(n&0xffff), "C"), nil
		})
	case "int-to-short":
		return r.convert(ins, false, func(v *Value) (*Value, error) {
			n, err := v.Int()
			if err != nil {
				return nil, err
			}
			return newLiteral(hexSigned(n&0xffff), "S"), nil
		})
	}
	return unsupportedOpcodeError{ins.Op}
}

func (r *runner) execMove(ins *Instruction, wide bool) error {
	src, err := r.regs.Get(ins.reg(1))
	if err != nil {
		return err
	}
	value := newUnknown()
	if src.Initialized() {
		v, _ := src.Value()
		value = v
	}
	return r.set(ins.reg(0), value, wide)
}

func (r *runner) execMoveResult(ins *Instruction, wide bool) error {
	value := newUnknown()
	if r.lastResult != nil {
		value = r.lastResult
		r.lastResult = nil
	}
	return r.set(ins.reg(0), value, wide)
}

func (r *runner) execNewInstance(ins *Instruction) error {
	value := newUnknown()
	if cls := r.vm.LoadClass(ins.Data); cls != nil {
		if cls.Framework != nil {
			value = newFrameworkValue(cls.Framework)
		} else {
			value = newObjectValue(cls.User)
		}
	}
	return r.set(ins.reg(0), value, false)
}

func (r *runner) execNewArray(ins *Instruction) error {
	src, err := r.operand(ins.reg(1))
	if err != nil {
		return err
	}
	value := newUnknown()
	if src != nil {
		size, err := src.Int()
		if err != nil {
			return err
		}
		value = newArrayValue(newArray(int(size), ins.Data))
	}
	return r.set(ins.reg(0), value, false)
}

func (r *runner) execArrayLength(ins *Instruction) error {
	src, err := r.operand(ins.reg(1))
	if err != nil {
		return err
	}
	if src == nil || src.IsNull() {
		return r.set(ins.reg(0), newUnknown(), false)
	}
	if !src.IsArray() {
		glog.Warningf("array-length on non-array value, skipping")
		return nil
	}
	arr, _ := src.Array()
	return r.set(ins.reg(0), newLiteral(hexSigned(int64(arr.Len())), "I"), false)
}

func (r *runner) execFilledNewArray(ins *Instruction) error {
	arr := newArray(len(ins.Registers()), ins.Data)
	for i, name := range ins.Registers() {
		reg, err := r.regs.Get(name)
		if err != nil {
			return err
		}
		value := newUnknown()
		if reg.Initialized() {
			v, _ := reg.Value()
			value = v
		}
		arr.Set(i, value)
	}
	r.lastResult = newArrayValue(arr)
	return nil
}

// payloadAt fetches the data directive following the payload label.
func (r *runner) payloadAt(label *Label) (Item, error) {
	pos := r.it.index(label)
	if pos < 0 {
		return nil, fmt.Errorf("payload label %s not found", label)
	}
	payload := r.it.get(pos + 1)
	if payload == nil {
		return nil, fmt.Errorf("missing payload after %s", label)
	}
	return payload, nil
}

func (r *runner) execFillArrayData(ins *Instruction) error {
	src, err := r.operand(ins.reg(0))
	if err != nil || src == nil {
		return err
	}
	arr, err := src.Array()
	if err != nil {
		return err
	}
	payload, err := r.payloadAt(ins.Label())
	if err != nil {
		return err
	}
	data, ok := payload.(*ArrayDataDirective)
	if !ok {
		return fmt.Errorf("invalid fill-array-data payload at %s", ins.Label())
	}
	for i, lit := range data.Values {
		if err := arr.Set(i, newLiteral(lit, "")); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) execAput(ins *Instruction) error {
	arrOp, err := r.operand(ins.reg(1))
	if err != nil {
		return err
	}
	idxOp, err := r.operand(ins.reg(2))
	if err != nil {
		return err
	}
	if arrOp == nil || idxOp == nil {
		// Writing into an unknown array is a no-op.
		return nil
	}
	srcReg, err := r.regs.Get(ins.reg(0))
	if err != nil {
		return err
	}
	value := newUnknown()
	if srcReg.Initialized() {
		v, _ := srcReg.Value()
		value = v
	}
	arr, err := arrOp.Array()
	if err != nil {
		return err
	}
	idx, err := idxOp.Int()
	if err != nil {
		return err
	}
	return arr.Set(int(idx), value)
}

func (r *runner) execAget(ins *Instruction) error {
	arrOp, err := r.operand(ins.reg(1))
	if err != nil {
		return err
	}
	idxOp, err := r.operand(ins.reg(2))
	if err != nil {
		return err
	}
	value := newUnknown()
	if arrOp != nil && idxOp != nil {
		arr, err := arrOp.Array()
		if err != nil {
			return err
		}
		idx, err := idxOp.Int()
		if err != nil {
			return err
		}
		value, err = arr.Get(int(idx))
		if err != nil {
			return err
		}
	}
	return r.set(ins.reg(0), value, ins.Op == "aget-wide")
}

func (r *runner) execGoto(ins *Instruction) error {
	pos := r.it.index(ins.Label())
	if pos < 0 {
		return fmt.Errorf("goto target %s not found", ins.Label())
	}
	// Block re-entry of this goto for the duration of the jump so a
	// self-loop terminates.
	h := r.service.AddByInstruction(ins, func(*Registers, *Instruction) bool { return false })
	defer r.service.Remove(h)
	r.it.seek(pos)
	_, err := r.run()
	return err
}

func (r *runner) execIf(ins *Instruction) error {
	target := r.it.index(ins.Label())
	if target < 0 {
		return fmt.Errorf("branch target %s not found", ins.Label())
	}
	reg1, err := r.regs.Get(ins.reg(0))
	if err != nil {
		return err
	}
	if !reg1.hasValue() {
		return r.exploreBranches([]int{target, r.it.tell()})
	}
	reg2, err := r.regs.Get(ins.reg(1))
	if err != nil {
		return err
	}
	if !reg2.hasValue() {
		return r.exploreBranches([]int{target, r.it.tell()})
	}
	v1, _ := reg1.Value()
	v2, _ := reg2.Value()
	var cond bool
	switch ins.Op {
	case "if-eq":
		cond = v1.equals(v2)
	case "if-ne":
		cond = !v1.equals(v2)
	default:
		a, err := v1.Int()
		if err != nil {
			return err
		}
		b, err := v2.Int()
		if err != nil {
			return err
		}
		x, y := int32(a), int32(b)
		switch ins.Op {
		case "if-lt":
			cond = x < y
		case "if-ge":
			cond = x >= y
		case "if-gt":
			cond = x > y
		case "if-le":
			cond = x <= y
		}
	}
	if cond {
		return r.takeBranch(target)
	}
	return nil
}

func (r *runner) execIfz(ins *Instruction) error {
	target := r.it.index(ins.Label())
	if target < 0 {
		return fmt.Errorf("branch target %s not found", ins.Label())
	}
	reg, err := r.regs.Get(ins.reg(0))
	if err != nil {
		return err
	}
	if !reg.hasValue() {
		return r.exploreBranches([]int{target, r.it.tell()})
	}
	v, _ := reg.Value()
	var cond bool
	switch ins.Op {
	case "if-eqz":
		if v.IsNull() {
			cond = true
		} else if v.IsInt() {
			n, _ := v.Int()
			cond = int32(n) == 0
		}
	case "if-nez":
		if !v.IsNull() && v.IsInt() {
			n, _ := v.Int()
			cond = int32(n) != 0
		}
	default:
		n, err := v.Int()
		if err != nil {
			return err
		}
		x := int32(n)
		switch ins.Op {
		case "if-ltz":
			cond = x < 0
		case "if-gez":
			cond = x >= 0
		case "if-gtz":
			cond = x > 0
		case "if-lez":
			cond = x <= 0
		}
	}
	if cond {
		return r.takeBranch(target)
	}
	return nil
}

// takeBranch runs the taken arm; once a jump has been followed the
// linear iteration past the branch does not continue (the inner run
// stopped the iterator).
func (r *runner) takeBranch(pos int) error {
	cur := r.it.tell()
	r.it.seek(pos)
	_, err := r.run()
	r.it.seek(cur)
	return err
}

func (r *runner) execPackedSwitch(ins *Instruction) error {
	payload, err := r.payloadAt(ins.Label())
	if err != nil {
		return err
	}
	table, ok := payload.(*PackedSwitchDirective)
	if !ok {
		return fmt.Errorf("invalid packed-switch payload at %s", ins.Label())
	}
	key, explored, err := r.switchKey(ins, len(table.Targets), func(i int) *Label { return table.Targets[i] })
	if explored || err != nil {
		return err
	}
	if target, ok := table.lookup(key); ok {
		pos := r.it.index(target)
		if pos < 0 {
			return fmt.Errorf("switch target %s not found", target)
		}
		return r.takeBranch(pos)
	}
	return nil
}

func (r *runner) execSparseSwitch(ins *Instruction) error {
	payload, err := r.payloadAt(ins.Label())
	if err != nil {
		return err
	}
	table, ok := payload.(*SparseSwitchDirective)
	if !ok {
		return fmt.Errorf("invalid sparse-switch payload at %s", ins.Label())
	}
	key, explored, err := r.switchKey(ins, len(table.Targets), func(i int) *Label { return table.Targets[i] })
	if explored || err != nil {
		return err
	}
	if target, ok := table.lookup(key); ok {
		pos := r.it.index(target)
		if pos < 0 {
			return fmt.Errorf("switch target %s not found", target)
		}
		return r.takeBranch(pos)
	}
	return nil
}

// switchKey resolves the switch key register. With an unknown key it
// fans out over every case plus fall-through and reports explored=true.
func (r *runner) switchKey(ins *Instruction, targets int, target func(int) *Label) (int64, bool, error) {
	reg, err := r.regs.Get(ins.reg(0))
	if err != nil {
		return 0, false, err
	}
	if !reg.hasValue() {
		positions := make([]int, 0, targets+1)
		for i := 0; i < targets; i++ {
			if pos := r.it.index(target(i)); pos >= 0 {
				positions = append(positions, pos)
			}
		}
		positions = append(positions, r.it.tell())
		return 0, true, r.exploreBranches(positions)
	}
	v, _ := reg.Value()
	n, err := v.Int()
	if err != nil {
		return 0, false, err
	}
	return int64(int32(n)), false, nil
}

// exploreBranches implements the unresolved-predicate policy: run a
// short exploration from every candidate position over a copy of the
// register file, merge per-register results (and return values) into
// concrete or ambiguous values, then stop the outer iteration.
func (r *runner) exploreBranches(positions []int) error {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth >= maxExploreDepth {
		r.it.stop()
		return nil
	}

	block := func(*Registers, *Instruction) bool { return false }
	var handles []Handle
	for _, pos := range positions {
		if ins, ok := r.it.get(pos).(*Instruction); ok {
			handles = append(handles, r.service.AddByInstruction(ins, block))
		}
	}

	origPos := r.it.tell()
	origRegs := r.regs
	merged := make(map[string][]*Value)
	var returns []*Value
	sawReturn := false

	for _, pos := range positions {
		r.it.resume()
		r.returned = nil
		r.regs = origRegs.clone()
		r.it.seek(pos)
		ret, err := r.run()
		if err != nil {
			if isFatalRunError(err) {
				r.it.seek(origPos)
				r.regs = origRegs
				for _, h := range handles {
					r.service.Remove(h)
				}
				return err
			}
			glog.V(2).Infof("%s: exploration from %d failed: %v", r.method.FullSignature(), pos, err)
			continue
		}
		if ret == nil {
			ret = newNoValue()
		} else {
			sawReturn = true
		}
		returns = mergeInto(returns, ret)
		for _, reg := range r.regs.All() {
			if !reg.Initialized() {
				continue
			}
			v, _ := reg.Value()
			if v.IsAmbiguous() {
				for _, alt := range v.amb.Values() {
					merged[reg.name] = mergeInto(merged[reg.name], alt.clone())
				}
			} else {
				merged[reg.name] = mergeInto(merged[reg.name], v.clone())
			}
		}
	}

	r.it.seek(origPos)
	r.regs = origRegs
	for _, h := range handles {
		r.service.Remove(h)
	}
	r.it.stop()

	for name, vals := range merged {
		if _, err := r.regs.Set(name, foldAlternatives(vals), false); err != nil {
			return err
		}
	}
	if sawReturn {
		r.returned = foldAlternatives(returns)
	}
	return nil
}

// mergeInto unions v into vals, deduplicating structurally.
func mergeInto(vals []*Value, v *Value) []*Value {
	for _, have := range vals {
		if have.equals(v) {
			return vals
		}
	}
	return append(vals, v)
}

// foldAlternatives turns a merged alternative set into a value: the
// single agreed value, an ambiguous set, or Unknown once the set grows
// past the bound.
func foldAlternatives(vals []*Value) *Value {
	switch {
	case len(vals) == 0:
		return newUnknown()
	case len(vals) == 1:
		return vals[0]
	case len(vals) > maxAmbiguous:
		return newUnknown()
	}
	amb := newAmbiguous()
	for _, v := range vals {
		amb.Add(v)
	}
	return newAmbiguousValue(amb)
}

func (r *runner) execInvoke(ins *Instruction) error {
	// Recursive and mutually recursive invokes are skipped; the caller
	// observes Unknown through the missing staged result.
	if r.invokes.contains(ins.Data) {
		return nil
	}
	r.invokes.push(ins.Data)
	defer r.invokes.pop()

	isStatic := ins.Op == "invoke-static" || ins.Op == "invoke-static/range"
	argRegs := ins.Registers()
	if !isStatic && len(argRegs) > 0 {
		argRegs = argRegs[1:]
	}
	args := make([]*Value, 0, len(argRegs))
	for _, name := range argRegs {
		reg, err := r.regs.Get(name)
		if err != nil {
			return err
		}
		if reg.Initialized() {
			v, _ := reg.Value()
			args = append(args, v)
		} else {
			args = append(args, newUnknown())
		}
	}

	var cls *LoadedClass
	if isStatic {
		cls = r.vm.LoadClass(ins.ClassName)
	} else if len(ins.Registers()) > 0 {
		reg, err := r.regs.Get(ins.Registers()[0])
		if err != nil {
			return err
		}
		if reg.hasValue() {
			v, _ := reg.Value()
			switch v.kind {
			case valFramework:
				cls = &LoadedClass{Framework: v.fw}
			case valObject:
				cls = &LoadedClass{User: v.obj}
			}
		}
	}

	var result *Value
	switch {
	case cls == nil:
		result = newUnknown()
	case cls.Framework != nil:
		name := ins.MethodSig
		if i := strings.IndexByte(name, '('); i >= 0 {
			name = name[:i]
		}
		v, handled := cls.Framework.Invoke(name, args)
		if !handled {
			result = newUnknown()
		} else {
			result = v
		}
	default:
		m := cls.User.Method(ins.MethodSig)
		if m == nil || m.IsAbstract() || m.IsNative() {
			result = newUnknown()
		} else {
			mr := &methodRunner{method: m, vm: r.vm, bps: r.bps, invokes: r.invokes}
			ret, err := mr.run(args...)
			if err != nil {
				// A callee with an unusable body behaves like an
				// unresolvable target; anything else surfaces in the
				// caller (and may be caught by its try region).
				if _, ok := err.(unsupportedOpcodeError); !ok {
					return err
				}
				result = newUnknown()
			} else {
				result = ret
			}
		}
	}

	if result != nil {
		r.lastResult = result
	}
	return nil
}

type cmpDecode func(*Value) (float64, error)

func (r *runner) execCmpFloat(ins *Instruction, decode cmpDecode, greaterOnNaN bool) error {
	a, err := r.operand(ins.reg(1))
	if err != nil {
		return err
	}
	b, err := r.operand(ins.reg(2))
	if err != nil {
		return err
	}
	value := newUnknown()
	if a != nil && b != nil {
		x, err := decode(a)
		if err != nil {
			return err
		}
		y, err := decode(b)
		if err != nil {
			return err
		}
		var res int64
		switch {
		case math.IsNaN(x) || math.IsNaN(y):
			if greaterOnNaN {
				res = 1
			} else {
				res = -1
			}
		case x == y:
			res = 0
		case x < y:
			res = -1
		default:
			res = 1
		}
		value = newLiteral(hexSigned(res), "I")
	}
	return r.set(ins.reg(0), value, false)
}

func (r *runner) execCmpLong(ins *Instruction) error {
	a, err := r.operand(ins.reg(1))
	if err != nil {
		return err
	}
	b, err := r.operand(ins.reg(2))
	if err != nil {
		return err
	}
	value := newUnknown()
	if a != nil && b != nil {
		x, err := a.Long()
		if err != nil {
			return err
		}
		y, err := b.Long()
		if err != nil {
			return err
		}
		var res int64
		switch {
		case x == y:
			res = 0
		case x < y:
			res = -1
		default:
			res = 1
		}
		value = newLiteral(hexSigned(res), "I")
	}
	return r.set(ins.reg(0), value, false)
}

// binaryOperands resolves the two source operands of an arithmetic
// instruction: three-address, /2addr in-place, or an immediate form.
func (r *runner) binaryOperands(ins *Instruction) (*Value, *Value, error) {
	switch ins.format {
	case fmt23x:
		a, err := r.operand(ins.reg(1))
		if err != nil {
			return nil, nil, err
		}
		b, err := r.operand(ins.reg(2))
		if err != nil {
			return nil, nil, err
		}
		return a, b, nil
	case fmt12x:
		a, err := r.operand(ins.reg(0))
		if err != nil {
			return nil, nil, err
		}
		b, err := r.operand(ins.reg(1))
		if err != nil {
			return nil, nil, err
		}
		return a, b, nil
	case fmt22b, fmt22s:
		a, err := r.operand(ins.reg(1))
		if err != nil {
			return nil, nil, err
		}
		return a, newLiteral(ins.Data, "I"), nil
	}
	return nil, nil, fmt.Errorf("invalid arithmetic format for %s", ins.Op)
}

// combine applies op across possibly-ambiguous operands: the pointwise
// operation runs over the ambiguous side, each element paired with the
// concrete other side. Both sides ambiguous degrades to Unknown.
func combine(a, b *Value, op func(x, y *Value) (*Value, error)) (*Value, error) {
	aAmb := a.IsAmbiguous()
	bAmb := b.IsAmbiguous()
	switch {
	case aAmb && bAmb:
		return newUnknown(), nil
	case aAmb:
		amb := newAmbiguous()
		for _, alt := range a.amb.Values() {
			if alt.IsUnknown() {
				amb.Add(newUnknown())
				continue
			}
			res, err := op(alt, b)
			if err != nil {
				return nil, err
			}
			amb.Add(res)
		}
		if amb.Len() > maxAmbiguous {
			return newUnknown(), nil
		}
		return newAmbiguousValue(amb), nil
	case bAmb:
		amb := newAmbiguous()
		for _, alt := range b.amb.Values() {
			if alt.IsUnknown() {
				amb.Add(newUnknown())
				continue
			}
			res, err := op(a, alt)
			if err != nil {
				return nil, err
			}
			amb.Add(res)
		}
		if amb.Len() > maxAmbiguous {
			return newUnknown(), nil
		}
		return newAmbiguousValue(amb), nil
	}
	return op(a, b)
}

func (r *runner) binaryResult(ins *Instruction, wide bool, op func(x, y *Value) (*Value, error)) error {
	a, b, err := r.binaryOperands(ins)
	if err != nil {
		return err
	}
	if a == nil || b == nil {
		return r.set(ins.reg(0), newUnknown(), wide)
	}
	value, err := combine(a, b, op)
	if err != nil {
		return err
	}
	return r.set(ins.reg(0), value, wide)
}

func (r *runner) binInt(ins *Instruction, f func(x, y int32) (int32, error)) error {
	return r.binaryResult(ins, false, func(x, y *Value) (*Value, error) {
		a, err := x.Int()
		if err != nil {
			return nil, err
		}
		b, err := y.Int()
		if err != nil {
			return nil, err
		}
		res, err := f(int32(a), int32(b))
		if err != nil {
			return nil, err
		}
		return newLiteral(hexInt32(res), "I"), nil
	})
}

func (r *runner) binLong(ins *Instruction, f func(x, y int64) (int64, error)) error {
	return r.binaryResult(ins, true, func(x, y *Value) (*Value, error) {
		a, err := x.Long()
		if err != nil {
			return nil, err
		}
		b, err := y.Long()
		if err != nil {
			return nil, err
		}
		res, err := f(a, b)
		if err != nil {
			return nil, err
		}
		return newLiteral(hexInt64(res), "J"), nil
	})
}

func (r *runner) binFloat(ins *Instruction, f func(x, y float64) float64) error {
	return r.binaryResult(ins, false, func(x, y *Value) (*Value, error) {
		a, err := x.Float()
		if err != nil {
			return nil, err
		}
		b, err := y.Float()
		if err != nil {
			return nil, err
		}
		return newLiteral(formatFloat(float64(float32(f(a, b)))), "F"), nil
	})
}

func (r *runner) binDouble(ins *Instruction, f func(x, y float64) float64) error {
	return r.binaryResult(ins, true, func(x, y *Value) (*Value, error) {
		a, err := x.Double()
		if err != nil {
			return nil, err
		}
		b, err := y.Double()
		if err != nil {
			return nil, err
		}
		return newLiteral(formatFloat(f(a, b)), "D"), nil
	})
}

// unaryResult applies op to the single source operand, spreading over an
// ambiguous set pointwise.
func (r *runner) unaryResult(ins *Instruction, wide bool, op func(*Value) (*Value, error)) error {
	src, err := r.operand(ins.reg(1))
	if err != nil {
		return err
	}
	if src == nil {
		return r.set(ins.reg(0), newUnknown(), wide)
	}
	if src.IsAmbiguous() {
		amb := newAmbiguous()
		for _, alt := range src.amb.Values() {
			if alt.IsUnknown() {
				amb.Add(newUnknown())
				continue
			}
			res, err := op(alt)
			if err != nil {
				return err
			}
			amb.Add(res)
		}
		if amb.Len() > maxAmbiguous {
			return r.set(ins.reg(0), newUnknown(), wide)
		}
		return r.set(ins.reg(0), newAmbiguousValue(amb), wide)
	}
	value, err := op(src)
	if err != nil {
		return err
	}
	return r.set(ins.reg(0), value, wide)
}

func (r *runner) unaryInt(ins *Instruction, f func(int32) (int32, error)) error {
	return r.unaryResult(ins, false, func(v *Value) (*Value, error) {
		n, err := v.Int()
		if err != nil {
			return nil, err
		}
		res, err := f(int32(n))
		if err != nil {
			return nil, err
		}
		return newLiteral(hexInt32(res), "I"), nil
	})
}

func (r *runner) unaryLong(ins *Instruction, f func(int64) (int64, error)) error {
	return r.unaryResult(ins, true, func(v *Value) (*Value, error) {
		n, err := v.Long()
		if err != nil {
			return nil, err
		}
		res, err := f(n)
		if err != nil {
			return nil, err
		}
		return newLiteral(hexInt64(res), "J"), nil
	})
}

func (r *runner) unaryFloat(ins *Instruction, f func(float64) float64) error {
	return r.unaryResult(ins, false, func(v *Value) (*Value, error) {
		x, err := v.Float()
		if err != nil {
			return nil, err
		}
		return newLiteral(formatFloat(float64(float32(f(x)))), "F"), nil
	})
}

func (r *runner) unaryDouble(ins *Instruction, f func(float64) float64) error {
	return r.unaryResult(ins, true, func(v *Value) (*Value, error) {
		x, err := v.Double()
		if err != nil {
			return nil, err
		}
		return newLiteral(formatFloat(f(x)), "D"), nil
	})
}

// convert applies a width/type conversion to the source register.
func (r *runner) convert(ins *Instruction, wide bool, op func(*Value) (*Value, error)) error {
	return r.unaryResult(ins, wide, op)
}

func divInt32(x, y int32) (int32, error) {
	if y == 0 {
		return 0, divisionByZeroError{}
	}
	return x / y, nil
}

func remInt32(x, y int32) (int32, error) {
	if y == 0 {
		return 0, divisionByZeroError{}
	}
	return x % y, nil
}

func divInt64(x, y int64) (int64, error) {
	if y == 0 {
		return 0, divisionByZeroError{}
	}
	return x / y, nil
}

func remInt64(x, y int64) (int64, error) {
	if y == 0 {
		return 0, divisionByZeroError{}
	}
	return x % y, nil
}

// Negative shift counts invert the shift direction. This is an engine
// convention kept for compatibility with the original analyzer, not
// Dalvik-standard behavior.
func shlInt32(x, y int32) (int32, error) {
	if y < 0 {
		return shrInt32(x, -y)
	}
	return x << uint32(y), nil
}

func shrInt32(x, y int32) (int32, error) {
	if y < 0 {
		return shlInt32(x, -y)
	}
	return x >> uint32(y), nil
}

func ushrInt32(x, y int32) (int32, error) {
	if y < 0 {
		return int32(uint32(x) << uint32(-y)), nil
	}
	return int32(uint32(x) >> uint32(y)), nil
}

func shlInt64(x, y int64) (int64, error) {
	if y < 0 {
		return shrInt64(x, -y)
	}
	return x << uint64(y), nil
}

func shrInt64(x, y int64) (int64, error) {
	if y < 0 {
		return shlInt64(x, -y)
	}
	return x >> uint64(y), nil
}

func ushrInt64(x, y int64) (int64, error) {
	if y < 0 {
		return int64(uint64(x) << uint64(-y)), nil
	}
	return int64(uint64(x) >> uint64(y)), nil
}

// methodRunner prepares a register bank for one method run: parameter
// registers hold the caller's argument values (Unknown when absent), the
// locals start Unknown.
type methodRunner struct {
	method  *Method
	vm      *VM
	bps     *Breakpoints
	invokes *invokeStack
}

func (mr *methodRunner) run(args ...*Value) (*Value, error) {
	m := mr.method
	if m.parseErr != nil {
		return nil, m.parseErr
	}
	var regs []*Register
	var params []*Register
	paramSlots := 0
	if !m.IsStatic() {
		reg := &Register{name: "p0", val: newUnknown()}
		regs = append(regs, reg)
		paramSlots++
	}
	n := paramSlots
	for _, p := range m.ParamTypes {
		reg := &Register{name: fmt.Sprintf("p%d", n), val: newUnknown()}
		regs = append(regs, reg)
		params = append(params, reg)
		n++
		if p == "J" || p == "D" {
			regs = append(regs, &Register{name: fmt.Sprintf("p%d", n), val: newUnknown()})
			n++
		}
	}
	locals := m.RegistersCount - len(regs)
	for i := 0; i < locals; i++ {
		regs = append(regs, &Register{name: fmt.Sprintf("v%d", i), val: newUnknown()})
	}
	for i, arg := range args {
		if i >= len(params) {
			break
		}
		params[i].val = arg
	}
	invokes := mr.invokes
	if invokes == nil {
		invokes = &invokeStack{}
	}
	r := newRunner(m.Items, newRegisters(regs), mr.vm, m, mr.bps, invokes)
	if glog.V(2) {
		glog.Infof("run %s", m.FullSignature())
	}
	return r.run()
}
