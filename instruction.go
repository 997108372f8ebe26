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
	"strconv"
	"strings"
)

type unsupportedOpcodeError struct {
	op string
}

func (e unsupportedOpcodeError) Error() string {
	return fmt.Sprintf("unsupported instruction: %s", e.op)
}

// opFormat is the Dalvik instruction format, which fixes the operand
// shape of a mnemonic.
type opFormat int

const (
	fmt10t opFormat = iota // label
	fmt10x                 // no operands
	fmt11n                 // reg, literal
	fmt11x                 // reg
	fmt12x                 // reg, reg
	fmt20t                 // label
	fmt21c                 // reg, reference
	fmt21h                 // reg, literal
	fmt21s                 // reg, literal
	fmt21t                 // reg, label
	fmt22b                 // reg, reg, literal
	fmt22c                 // reg, reg, reference
	fmt22s                 // reg, reg, literal
	fmt22t                 // reg, reg, label
	fmt22x                 // reg, reg
	fmt23x                 // reg, reg, reg
	fmt30t                 // label
	fmt31c                 // reg, reference
	fmt31i                 // reg, literal
	fmt31t                 // reg, label
	fmt32x                 // reg, reg
	fmt35c                 // {regs}, reference
	fmt3rc                 // {reg range}, reference
	fmt51l                 // reg, literal
)

// Instruction is one parsed opcode line: the mnemonic plus its format
// operands. The variant is tagged by Op; the format only drives operand
// shape and stringification.
type Instruction struct {
	Op     string
	format opFormat
	regs   []string
	Data   string
	label  *Label

	// Decoded invoke target, split out of Data.
	ClassName string
	MethodSig string

	method *Method
}

// Registers returns the operand registers in source order. For range
// invokes the range is already enumerated.
func (ins *Instruction) Registers() []string { return ins.regs }

func (ins *Instruction) reg(i int) string {
	if i < len(ins.regs) {
		return ins.regs[i]
	}
	return ""
}

// Label returns the branch/payload target, if the format carries one.
func (ins *Instruction) Label() *Label { return ins.label }

// Method returns the method the instruction belongs to.
func (ins *Instruction) Method() *Method { return ins.method }

func (ins *Instruction) isInvoke() bool {
	return strings.HasPrefix(ins.Op, "invoke-")
}

// InvokeReturnType is the return type descriptor of an invoke target.
func (ins *Instruction) InvokeReturnType() string {
	i := strings.LastIndexByte(ins.MethodSig, ')')
	if i < 0 {
		return ""
	}
	return ins.MethodSig[i+1:]
}

func (ins *Instruction) isStringConst() bool {
	return ins.Op == "const-string" || ins.Op == "const-string/jumbo"
}

func (ins *Instruction) String() string {
	switch ins.format {
	case fmt10x:
		return ins.Op
	case fmt10t, fmt20t, fmt30t:
		return fmt.Sprintf("%s %s", ins.Op, ins.label)
	case fmt11x:
		return fmt.Sprintf("%s %s", ins.Op, ins.reg(0))
	case fmt11n, fmt21s, fmt21h, fmt31i, fmt51l:
		return fmt.Sprintf("%s %s, %s", ins.Op, ins.reg(0), ins.Data)
	case fmt21c, fmt31c:
		if ins.isStringConst() {
			return fmt.Sprintf("%s %s, %q", ins.Op, ins.reg(0), ins.Data)
		}
		return fmt.Sprintf("%s %s, %s", ins.Op, ins.reg(0), ins.Data)
	case fmt12x, fmt22x, fmt32x:
		return fmt.Sprintf("%s %s, %s", ins.Op, ins.reg(0), ins.reg(1))
	case fmt21t, fmt31t:
		return fmt.Sprintf("%s %s, %s", ins.Op, ins.reg(0), ins.label)
	case fmt22b, fmt22c, fmt22s:
		return fmt.Sprintf("%s %s, %s, %s", ins.Op, ins.reg(0), ins.reg(1), ins.Data)
	case fmt22t:
		return fmt.Sprintf("%s %s, %s, %s", ins.Op, ins.reg(0), ins.reg(1), ins.label)
	case fmt23x:
		return fmt.Sprintf("%s %s, %s, %s", ins.Op, ins.reg(0), ins.reg(1), ins.reg(2))
	case fmt35c:
		return fmt.Sprintf("%s {%s}, %s", ins.Op, strings.Join(ins.regs, ", "), ins.Data)
	case fmt3rc:
		if len(ins.regs) == 0 {
			return fmt.Sprintf("%s {}, %s", ins.Op, ins.Data)
		}
		return fmt.Sprintf("%s {%s .. %s}, %s", ins.Op, ins.regs[0], ins.regs[len(ins.regs)-1], ins.Data)
	}
	return ins.Op
}

// parseInstruction parses one opcode line. Labels referenced by branch
// operands are interned into the method's label table.
func parseInstruction(line string, labels *labelTable) (*Instruction, error) {
	name, rest := firstWord(line)
	format, ok := opFormats[name]
	if !ok {
		return nil, unsupportedOpcodeError{name}
	}
	ins := &Instruction{Op: name, format: format}
	fail := func() error {
		return fmt.Errorf("invalid %s operands: %q", name, line)
	}
	switch format {
	case fmt10x:
		// no operands
	case fmt10t, fmt20t, fmt30t:
		if len(rest) < 2 || rest[0] != ':' {
			return nil, fail()
		}
		ins.label = labels.intern(rest[1:])
	case fmt11x:
		if rest == "" {
			return nil, fail()
		}
		ins.regs = []string{rest}
	case fmt11n, fmt21s, fmt21h, fmt31i, fmt51l, fmt21c, fmt31c:
		r1, data, ok := splitOperand(rest)
		if !ok {
			return nil, fail()
		}
		ins.regs = []string{r1}
		if ins.isStringConst() {
			data = unquote(data)
		}
		ins.Data = data
	case fmt12x, fmt22x, fmt32x:
		r1, r2, ok := splitOperand(rest)
		if !ok {
			return nil, fail()
		}
		ins.regs = []string{r1, r2}
	case fmt21t, fmt31t:
		r1, target, ok := splitOperand(rest)
		if !ok || len(target) < 2 || target[0] != ':' {
			return nil, fail()
		}
		ins.regs = []string{r1}
		ins.label = labels.intern(target[1:])
	case fmt22b, fmt22c, fmt22s:
		r1, rest2, ok := splitOperand(rest)
		if !ok {
			return nil, fail()
		}
		r2, data, ok := splitOperand(rest2)
		if !ok {
			return nil, fail()
		}
		ins.regs = []string{r1, r2}
		ins.Data = data
	case fmt22t:
		r1, rest2, ok := splitOperand(rest)
		if !ok {
			return nil, fail()
		}
		r2, target, ok := splitOperand(rest2)
		if !ok || len(target) < 2 || target[0] != ':' {
			return nil, fail()
		}
		ins.regs = []string{r1, r2}
		ins.label = labels.intern(target[1:])
	case fmt23x:
		r1, rest2, ok := splitOperand(rest)
		if !ok {
			return nil, fail()
		}
		r2, r3, ok := splitOperand(rest2)
		if !ok {
			return nil, fail()
		}
		ins.regs = []string{r1, r2, r3}
	case fmt35c:
		lb := strings.IndexByte(rest, '{')
		rb := strings.IndexByte(rest, '}')
		if lb < 0 || rb < lb {
			return nil, fail()
		}
		regList := strings.TrimSpace(rest[lb+1 : rb])
		if regList != "" {
			ins.regs = strings.Split(regList, ", ")
			if len(ins.regs) > 5 {
				return nil, fmt.Errorf("invalid registers: %q", regList)
			}
		}
		ins.Data = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest[rb+1:]), ","))
	case fmt3rc:
		lb := strings.IndexByte(rest, '{')
		rb := strings.IndexByte(rest, '}')
		if lb < 0 || rb < lb {
			return nil, fail()
		}
		span := strings.Split(rest[lb+1:rb], " .. ")
		if len(span) != 2 {
			return nil, fmt.Errorf("invalid register range: %q", rest[lb+1:rb])
		}
		start := strings.TrimSpace(span[0])
		end := strings.TrimSpace(span[1])
		if len(start) < 2 || len(end) < 2 || start[0] != end[0] {
			return nil, fail()
		}
		lo, err := strconv.Atoi(start[1:])
		if err != nil {
			return nil, fail()
		}
		hi, err := strconv.Atoi(end[1:])
		if err != nil || hi < lo {
			return nil, fail()
		}
		for i := lo; i <= hi; i++ {
			ins.regs = append(ins.regs, fmt.Sprintf("%c%d", start[0], i))
		}
		ins.Data = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest[rb+1:]), ","))
	}
	if ins.isInvoke() {
		i := strings.Index(ins.Data, "->")
		if i < 0 {
			return nil, fmt.Errorf("invalid invoke target: %q", ins.Data)
		}
		ins.ClassName = ins.Data[:i]
		ins.MethodSig = ins.Data[i+2:]
	}
	return ins, nil
}

// opFormats maps every baksmali mnemonic the engine accepts to its
// instruction format.
var opFormats = map[string]opFormat{
	"nop":         fmt10x,
	"return-void": fmt10x,

	"goto":    fmt10t,
	"goto/16": fmt20t,
	"goto/32": fmt30t,

	"return":             fmt11x,
	"return-wide":        fmt11x,
	"return-object":      fmt11x,
	"monitor-enter":      fmt11x,
	"monitor-exit":       fmt11x,
	"move-result":        fmt11x,
	"move-result-wide":   fmt11x,
	"move-result-object": fmt11x,
	"move-exception":     fmt11x,
	"throw":              fmt11x,

	"move":         fmt12x,
	"move-wide":    fmt12x,
	"move-object":  fmt12x,
	"array-length": fmt12x,

	"move/from16":        fmt22x,
	"move-wide/from16":   fmt22x,
	"move-object/from16": fmt22x,
	"move/16":            fmt32x,
	"move-wide/16":       fmt32x,
	"move-object/16":     fmt32x,

	"const/4":           fmt11n,
	"const/16":          fmt21s,
	"const":             fmt31i,
	"const/high16":      fmt21h,
	"const-wide/16":     fmt21s,
	"const-wide/32":     fmt31i,
	"const-wide":        fmt51l,
	"const-wide/high16": fmt21h,

	"const-string":        fmt21c,
	"const-string/jumbo":  fmt31c,
	"const-class":         fmt21c,
	"check-cast":          fmt21c,
	"new-instance":        fmt21c,
	"const-method-handle": fmt21c,
	"const-method-type":   fmt21c,

	"instance-of": fmt22c,
	"new-array":   fmt22c,

	"filled-new-array":       fmt35c,
	"filled-new-array/range": fmt3rc,
	"fill-array-data":        fmt31t,
	"packed-switch":          fmt31t,
	"sparse-switch":          fmt31t,

	"cmpl-float":  fmt23x,
	"cmpg-float":  fmt23x,
	"cmpl-double": fmt23x,
	"cmpg-double": fmt23x,
	"cmp-long":    fmt23x,

	"if-eq": fmt22t,
	"if-ne": fmt22t,
	"if-lt": fmt22t,
	"if-ge": fmt22t,
	"if-gt": fmt22t,
	"if-le": fmt22t,

	"if-eqz": fmt21t,
	"if-nez": fmt21t,
	"if-ltz": fmt21t,
	"if-gez": fmt21t,
	"if-gtz": fmt21t,
	"if-lez": fmt21t,

	"aget":         fmt23x,
	"aget-wide":    fmt23x,
	"aget-object":  fmt23x,
	"aget-boolean": fmt23x,
	"aget-byte":    fmt23x,
	"aget-char":    fmt23x,
	"aget-short":   fmt23x,
	"aput":         fmt23x,
	"aput-wide":    fmt23x,
	"aput-object":  fmt23x,
	"aput-boolean": fmt23x,
	"aput-byte":    fmt23x,
	"aput-char":    fmt23x,
	"aput-short":   fmt23x,

	"iget":         fmt22c,
	"iget-wide":    fmt22c,
	"iget-object":  fmt22c,
	"iget-boolean": fmt22c,
	"iget-byte":    fmt22c,
	"iget-char":    fmt22c,
	"iget-short":   fmt22c,
	"iput":         fmt22c,
	"iput-wide":    fmt22c,
	"iput-object":  fmt22c,
	"iput-boolean": fmt22c,
	"iput-byte":    fmt22c,
	"iput-char":    fmt22c,
	"iput-short":   fmt22c,

	"sget":         fmt21c,
	"sget-wide":    fmt21c,
	"sget-object":  fmt21c,
	"sget-boolean": fmt21c,
	"sget-byte":    fmt21c,
	"sget-char":    fmt21c,
	"sget-short":   fmt21c,
	"sput":         fmt21c,
	"sput-wide":    fmt21c,
	"sput-object":  fmt21c,
	"sput-boolean": fmt21c,
	"sput-byte":    fmt21c,
	"sput-char":    fmt21c,
	"sput-short":   fmt21c,

	"invoke-virtual":           fmt35c,
	"invoke-super":             fmt35c,
	"invoke-direct":            fmt35c,
	"invoke-static":            fmt35c,
	"invoke-interface":         fmt35c,
	"invoke-polymorphic":       fmt35c,
	"invoke-custom":            fmt35c,
	"invoke-virtual/range":     fmt3rc,
	"invoke-super/range":       fmt3rc,
	"invoke-direct/range":      fmt3rc,
	"invoke-static/range":      fmt3rc,
	"invoke-interface/range":   fmt3rc,
	"invoke-polymorphic/range": fmt3rc,
	"invoke-custom/range":      fmt3rc,

	"neg-int":    fmt12x,
	"not-int":    fmt12x,
	"neg-long":   fmt12x,
	"not-long":   fmt12x,
	"neg-float":  fmt12x,
	"neg-double": fmt12x,

	"int-to-long":     fmt12x,
	"int-to-float":    fmt12x,
	"int-to-double":   fmt12x,
	"long-to-int":     fmt12x,
	"long-to-float":   fmt12x,
	"long-to-double":  fmt12x,
	"float-to-int":    fmt12x,
	"float-to-long":   fmt12x,
	"float-to-double": fmt12x,
	"double-to-int":   fmt12x,
	"double-to-long":  fmt12x,
	"double-to-float": fmt12x,
	"int-to-byte":     fmt12x,
	"int-to-char":     fmt12x,
	"int-to-short":    fmt12x,

	"add-int":  fmt23x,
	"sub-int":  fmt23x,
	"mul-int":  fmt23x,
	"div-int":  fmt23x,
	"rem-int":  fmt23x,
	"and-int":  fmt23x,
	"or-int":   fmt23x,
	"xor-int":  fmt23x,
	"shl-int":  fmt23x,
	"shr-int":  fmt23x,
	"ushr-int": fmt23x,

	"add-long":  fmt23x,
	"sub-long":  fmt23x,
	"mul-long":  fmt23x,
	"div-long":  fmt23x,
	"rem-long":  fmt23x,
	"and-long":  fmt23x,
	"or-long":   fmt23x,
	"xor-long":  fmt23x,
	"shl-long":  fmt23x,
	"shr-long":  fmt23x,
	"ushr-long": fmt23x,

	"add-float":  fmt23x,
	"sub-float":  fmt23x,
	"mul-float":  fmt23x,
	"div-float":  fmt23x,
	"rem-float":  fmt23x,
	"add-double": fmt23x,
	"sub-double": fmt23x,
	"mul-double": fmt23x,
	"div-double": fmt23x,
	"rem-double": fmt23x,

	"add-int/2addr":  fmt12x,
	"sub-int/2addr":  fmt12x,
	"mul-int/2addr":  fmt12x,
	"div-int/2addr":  fmt12x,
	"rem-int/2addr":  fmt12x,
	"and-int/2addr":  fmt12x,
	"or-int/2addr":   fmt12x,
	"xor-int/2addr":  fmt12x,
	"shl-int/2addr":  fmt12x,
	"shr-int/2addr":  fmt12x,
	"ushr-int/2addr": fmt12x,

	"add-long/2addr":  fmt12x,
	"sub-long/2addr":  fmt12x,
	"mul-long/2addr":  fmt12x,
	"div-long/2addr":  fmt12x,
	"rem-long/2addr":  fmt12x,
	"and-long/2addr":  fmt12x,
	"or-long/2addr":   fmt12x,
	"xor-long/2addr":  fmt12x,
	"shl-long/2addr":  fmt12x,
	"shr-long/2addr":  fmt12x,
	"ushr-long/2addr": fmt12x,

	"add-float/2addr":  fmt12x,
	"sub-float/2addr":  fmt12x,
	"mul-float/2addr":  fmt12x,
	"div-float/2addr":  fmt12x,
	"rem-float/2addr":  fmt12x,
	"add-double/2addr": fmt12x,
	"sub-double/2addr": fmt12x,
	"mul-double/2addr": fmt12x,
	"div-double/2addr": fmt12x,
	"rem-double/2addr": fmt12x,

	"add-int/lit16": fmt22s,
	"rsub-int":      fmt22s,
	"mul-int/lit16": fmt22s,
	"div-int/lit16": fmt22s,
	"rem-int/lit16": fmt22s,
	"and-int/lit16": fmt22s,
	"or-int/lit16":  fmt22s,
	"xor-int/lit16": fmt22s,

	"add-int/lit8":  fmt22b,
	"rsub-int/lit8": fmt22b,
	"mul-int/lit8":  fmt22b,
	"div-int/lit8":  fmt22b,
	"rem-int/lit8":  fmt22b,
	"and-int/lit8":  fmt22b,
	"or-int/lit8":   fmt22b,
	"xor-int/lit8":  fmt22b,
	"shl-int/lit8":  fmt22b,
	"shr-int/lit8":  fmt22b,
	"ushr-int/lit8": fmt22b,
}
