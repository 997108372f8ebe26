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
	"math/rand"
	"strings"
	"sync"
)

// FrameworkClass is a stub implementation of a platform class the engine
// understands symbolically. Invoke dispatches by method name (with
// <init>/<clinit> mangled to _init_/_clinit_) and reports handled=false
// for methods the stub does not know; the caller treats those as
// Unknown. A nil returned value means void.
type FrameworkClass interface {
	ClassName() string
	Initialized() bool
	Invoke(method string, args []*Value) (value *Value, handled bool)
}

// mangleMethodName maps Dalvik's <init>/<clinit> to stub lookup names.
func mangleMethodName(name string) string {
	return strings.NewReplacer("<", "_", ">", "_").Replace(name)
}

var frameworkRegistry = struct {
	mu sync.Mutex
	m  map[string]func() FrameworkClass
}{m: make(map[string]func() FrameworkClass)}

// RegisterFramework registers a stub factory under its Dalvik class
// name. Framework stubs take precedence over on-disk classes.
func RegisterFramework(name string, factory func() FrameworkClass) {
	frameworkRegistry.mu.Lock()
	frameworkRegistry.m[name] = factory
	frameworkRegistry.mu.Unlock()
}

func frameworkFactory(name string) (func() FrameworkClass, bool) {
	frameworkRegistry.mu.Lock()
	f, ok := frameworkRegistry.m[name]
	frameworkRegistry.mu.Unlock()
	return f, ok
}

func init() {
	RegisterFramework("Ljava/lang/String;", func() FrameworkClass { return &JavaLangString{} })
	RegisterFramework("Ljava/lang/StringBuilder;", func() FrameworkClass { return &JavaLangStringBuilder{} })
	RegisterFramework("Ljava/lang/Math;", func() FrameworkClass { return &JavaLangMath{} })
}

// JavaLangString models java.lang.String. A default-constructed instance
// is not meaningful until <init> ran.
type JavaLangString struct {
	data        string
	initialized bool
}

func newJavaLangString(s string) *JavaLangString {
	return &JavaLangString{data: s, initialized: true}
}

func (s *JavaLangString) ClassName() string { return "Ljava/lang/String;" }
func (s *JavaLangString) Initialized() bool { return s.initialized }

func (s *JavaLangString) Invoke(method string, args []*Value) (*Value, bool) {
	switch mangleMethodName(method) {
	case "_init_":
		if len(args) == 0 {
			return newUnknown(), true
		}
		str, err := args[0].Str()
		if err != nil {
			return newUnknown(), true
		}
		s.data = str
		s.initialized = true
		return newFrameworkValue(s), true
	case "toString":
		if !s.initialized {
			return newUnknown(), true
		}
		return newFrameworkValue(s), true
	case "length":
		if !s.initialized {
			return newUnknown(), true
		}
		return newLiteral(hexSigned(int64(len(s.data))), "I"), true
	case "isEmpty":
		if !s.initialized {
			return newUnknown(), true
		}
		if s.data == "" {
			return newLiteral("0x1", "Z"), true
		}
		return newLiteral("0x0", "Z"), true
	case "format":
		return javaStringFormat(args), true
	}
	return nil, false
}

// javaStringFormat evaluates String.format for the argument shapes the
// engine can decode; anything else degrades to Unknown.
func javaStringFormat(args []*Value) *Value {
	if len(args) == 0 {
		return newUnknown()
	}
	format, err := args[0].Str()
	if err != nil {
		return newUnknown()
	}
	var opnds []interface{}
	for _, arg := range args[1:] {
		if arr, err := arg.Array(); err == nil {
			for _, el := range arr.Elements() {
				v, ok := formatOperand(el)
				if !ok {
					return newUnknown()
				}
				opnds = append(opnds, v)
			}
			continue
		}
		v, ok := formatOperand(arg)
		if !ok {
			return newUnknown()
		}
		opnds = append(opnds, v)
	}
	return newStringValue(fmt.Sprintf(format, opnds...))
}

func formatOperand(v *Value) (interface{}, bool) {
	if s, err := v.Str(); err == nil {
		return s, true
	}
	if n, err := v.Int(); err == nil {
		return n, true
	}
	return nil, false
}

// JavaLangStringBuilder models java.lang.StringBuilder.
type JavaLangStringBuilder struct {
	data string
}

func (b *JavaLangStringBuilder) ClassName() string { return "Ljava/lang/StringBuilder;" }
func (b *JavaLangStringBuilder) Initialized() bool { return true }

func (b *JavaLangStringBuilder) Invoke(method string, args []*Value) (*Value, bool) {
	switch mangleMethodName(method) {
	case "_init_":
		b.data = ""
		if len(args) > 0 {
			if s, err := args[0].Str(); err == nil {
				b.data = s
			}
		}
		return nil, true
	case "append":
		if len(args) == 0 {
			return newUnknown(), true
		}
		arg := args[0]
		if s, err := arg.Str(); err == nil {
			b.data += s
			return newFrameworkValue(b), true
		}
		if arg.IsConcrete() {
			b.data += arg.Raw()
			return newFrameworkValue(b), true
		}
		return newUnknown(), true
	case "toString":
		return newStringValue(b.data), true
	case "length":
		return newLiteral(hexSigned(int64(len(b.data))), "I"), true
	}
	return nil, false
}

// JavaLangMath models java.lang.Math.
type JavaLangMath struct{}

func (m *JavaLangMath) ClassName() string { return "Ljava/lang/Math;" }
func (m *JavaLangMath) Initialized() bool { return true }

func (m *JavaLangMath) Invoke(method string, args []*Value) (*Value, bool) {
	switch mangleMethodName(method) {
	case "random":
		return newLiteral(formatFloat(rand.Float64()), "D"), true
	}
	return nil, false
}
