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

func TestStringStubInit(t *testing.T) {
	s := &JavaLangString{}
	if s.Initialized() {
		t.Errorf("default-constructed string must not be initialized")
	}
	v, handled := s.Invoke("<init>", []*Value{newStringValue("hi")})
	if !handled {
		t.Fatal("<init> must be handled")
	}
	if !s.Initialized() || s.data != "hi" {
		t.Errorf("after init: initialized=%v data=%q", s.Initialized(), s.data)
	}
	got, err := v.Str()
	if err != nil || got != "hi" {
		t.Errorf("init result=%q,%v", got, err)
	}
}

func TestStringStubUnknownMethodFallsBack(t *testing.T) {
	s := newJavaLangString("x")
	if _, handled := s.Invoke("reverseComplement", nil); handled {
		t.Errorf("unknown methods must not be handled")
	}
}

func TestStringStubLength(t *testing.T) {
	s := newJavaLangString("abcd")
	v, handled := s.Invoke("length", nil)
	if !handled {
		t.Fatal("length must be handled")
	}
	if n, err := v.Int(); err != nil || n != 4 {
		t.Errorf("length=%d,%v, want 4", n, err)
	}
}

func TestStringFormat(t *testing.T) {
	args := []*Value{
		newStringValue("%s-%d"),
		newStringValue("k"),
		newLiteral("0x7", "I"),
	}
	v := javaStringFormat(args)
	got, err := v.Str()
	if err != nil || got != "k-7" {
		t.Errorf("format=%q,%v, want k-7", got, err)
	}
	// Undecodable arguments degrade to unknown.
	v = javaStringFormat([]*Value{newStringValue("%s"), newUnknown()})
	if !v.IsUnknown() {
		t.Errorf("format with unknown arg=%v, want unknown", v)
	}
}

func TestStringBuilderStub(t *testing.T) {
	b := &JavaLangStringBuilder{}
	b.Invoke("<init>", nil)
	if _, handled := b.Invoke("append", []*Value{newStringValue("ab")}); !handled {
		t.Fatal("append must be handled")
	}
	b.Invoke("append", []*Value{newLiteral("0x1", "I")})
	v, _ := b.Invoke("toString", nil)
	got, err := v.Str()
	if err != nil || got != "ab0x1" {
		t.Errorf("toString=%q,%v, want ab0x1 (concrete literals append raw)", got, err)
	}
	if res, _ := b.Invoke("append", []*Value{newUnknown()}); !res.IsUnknown() {
		t.Errorf("append(unknown)=%v, want unknown", res)
	}
}

func TestMathRandomStub(t *testing.T) {
	m := &JavaLangMath{}
	v, handled := m.Invoke("random", nil)
	if !handled {
		t.Fatal("random must be handled")
	}
	f, err := v.Double()
	if err != nil || f < 0 || f >= 1 {
		t.Errorf("random=%v,%v, want [0, 1)", f, err)
	}
}

func TestMangleMethodName(t *testing.T) {
	if got := mangleMethodName("<init>"); got != "_init_" {
		t.Errorf("mangle(<init>)=%q", got)
	}
	if got := mangleMethodName("<clinit>"); got != "_clinit_" {
		t.Errorf("mangle(<clinit>)=%q", got)
	}
	if got := mangleMethodName("toString"); got != "toString" {
		t.Errorf("mangle(toString)=%q", got)
	}
}

func TestFrameworkRegistryPrecedence(t *testing.T) {
	vm := vmWithClasses(t, `
.class Ljava/lang/String;
.super Ljava/lang/Object;
# direct methods
.method public static bogus()V
    .registers 0
    return-void
.end method
`)
	lc := vm.LoadClass("Ljava/lang/String;")
	if lc == nil || !lc.IsFramework() {
		t.Errorf("framework stub must shadow the on-disk class")
	}
}
