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
	"strings"
)

// Class is one parsed user class. Framework stubs implement
// FrameworkClass instead and never appear as *Class.
type Class struct {
	Name        string // smali type descriptor, e.g. Lcom/foo/Bar;
	Flags       []string
	Super       string
	Source      string
	Implements  []string
	Annotations []*AnnotationDirective
	Fields      []*Field
	Methods     []*Method
}

// Method resolves a method by its "name(params)ret" signature. Matching
// is by name and parameter types.
func (c *Class) Method(signature string) *Method {
	lb := strings.IndexByte(signature, '(')
	rb := strings.LastIndexByte(signature, ')')
	if lb < 0 || rb < lb {
		return nil
	}
	return c.method(signature[:lb], parseParamTypes(signature[lb+1:rb]))
}

func (c *Class) method(name string, paramTypes []string) *Method {
	for _, m := range c.Methods {
		if m.Name != name || len(m.ParamTypes) != len(paramTypes) {
			continue
		}
		match := true
		for i, p := range m.ParamTypes {
			if p != paramTypes[i] {
				match = false
				break
			}
		}
		if match {
			return m
		}
	}
	return nil
}

// Field resolves a field by name.
func (c *Class) Field(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Field is one parsed field declaration.
type Field struct {
	class        *Class
	Name         string
	Type         string
	Flags        []string
	InitialValue string // raw literal; strings have their quotes stripped
	HasInitial   bool
	Annotations  []*AnnotationDirective
}

func (f *Field) Class() *Class { return f.class }

func (f *Field) Signature() string { return f.Name + ":" + f.Type }

func (f *Field) FullSignature() string {
	return f.class.Name + "->" + f.Signature()
}

// Method is one parsed method. Methods are immutable after parsing.
type Method struct {
	class          *Class
	Name           string
	ParamTypes     []string
	ReturnType     string
	Flags          []string
	RegistersCount int
	Items          []Item
	Virtual        bool
	Direct         bool

	// Set when the body contains a mnemonic the engine does not accept;
	// running the method surfaces it, other methods are unaffected.
	parseErr error
}

func (m *Method) Class() *Class { return m.class }

func (m *Method) hasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

func (m *Method) IsStatic() bool   { return m.hasFlag("static") }
func (m *Method) IsAbstract() bool { return m.hasFlag("abstract") }
func (m *Method) IsNative() bool   { return m.hasFlag("native") }

func (m *Method) Signature() string {
	return fmt.Sprintf("%s(%s)%s", m.Name, strings.Join(m.ParamTypes, ""), m.ReturnType)
}

func (m *Method) FullSignature() string {
	return m.class.Name + "->" + m.Signature()
}
