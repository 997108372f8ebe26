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
	"reflect"
	"testing"
)

func TestVMPreIndex(t *testing.T) {
	vm := vmWithClasses(t, `
.class La;
.super Ljava/lang/Object;
`, `
.class Lb/c;
.super Ljava/lang/Object;
`)
	if vm.ClassCount() != 2 {
		t.Errorf("ClassCount=%d, want 2", vm.ClassCount())
	}
	want := []string{"La;", "Lb/c;"}
	if got := vm.ClassNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("ClassNames=%q, want %q", got, want)
	}
}

func TestVMLoadClassCaches(t *testing.T) {
	vm := vmWithClasses(t, `
.class La;
.super Ljava/lang/Object;
`)
	first := vm.LoadClass("La;")
	second := vm.LoadClass("La;")
	if first == nil || second == nil {
		t.Fatal("La; must load")
	}
	if first.User != second.User {
		t.Errorf("repeated loads must hit the cache")
	}
}

func TestVMLoadUnknownClass(t *testing.T) {
	vm := vmWithClasses(t)
	if lc := vm.LoadClass("Lno/such/Class;"); lc != nil {
		t.Errorf("unknown class=%v, want nil", lc)
	}
}

func TestVMBrokenClassDoesNotPoisonOthers(t *testing.T) {
	vm := vmWithClasses(t, `
.class Lbroken;
.super Ljava/lang/Object;
.unknowndirective whatever
`, `
.class Lok;
.super Ljava/lang/Object;
# direct methods
.method public static f()I
    .registers 1
    const/4 v0, 0x1
    return v0
.end method
`)
	if lc := vm.LoadClass("Lbroken;"); lc != nil {
		t.Errorf("broken class must fail to load")
	}
	ret := mustInvoke(t, vm, "Lok;", "f", nil)
	if ret.Raw() != "0x1" {
		t.Errorf("f=%q, want 0x1", ret.Raw())
	}
}

func TestVMRunAllMethods(t *testing.T) {
	vm := vmWithClasses(t, `
.class Lall;
.super Ljava/lang/Object;
# direct methods
.method public static a()V
    .registers 1
    const-string v0, "one"
    return-void
.end method

# virtual methods
.method public b()V
    .registers 1
    const-string v0, "two"
    return-void
.end method

.method public abstract c()V
.end method
`)
	var got []string
	vm.Breakpoints().AddByValueType("string", func(regs *Registers, ins *Instruction, reg *Register, value string) bool {
		got = append(got, value)
		return true
	})
	lc := vm.LoadClass("Lall;")
	if lc == nil {
		t.Fatal("Lall; must load")
	}
	if err := vm.RunAllMethods(lc.User); err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("observed strings=%q, want %q (abstract method skipped)", got, want)
	}
}

func TestVMUnsupportedOpcodeSurfacesOnRun(t *testing.T) {
	vm := vmWithClasses(t, `
.class Lpoison;
.super Ljava/lang/Object;
# direct methods
.method public static bad()V
    .registers 0
    frobnicate v0
    return-void
.end method
`)
	lc := vm.LoadClass("Lpoison;")
	if lc == nil {
		t.Fatal("class with an unsupported opcode still loads")
	}
	if err := vm.RunAllMethods(lc.User); err == nil {
		t.Errorf("running the poisoned method must surface its parse error")
	}
}
