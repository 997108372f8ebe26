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

// Accepted instructions stringify back to their source line; this is the
// parser round-trip contract.
func TestInstructionRoundTrip(t *testing.T) {
	for _, line := range []string{
		"nop",
		"return-void",
		"return v0",
		"return-object v1",
		"return-wide v2",
		"throw v0",
		"move v0, v1",
		"move/from16 v0, v18",
		"move-object v3, v4",
		"move-result v0",
		"move-result-object v1",
		"move-exception v2",
		"const/4 v0, 0x2",
		"const/16 v1, 0x1f4",
		"const v2, 0x7fffffff",
		"const/high16 v3, 0x41200000",
		"const-wide v0, 0x4014000000000000L",
		"const-wide/16 v2, 0x10",
		"const-wide/32 v4, 0x12d687",
		"const-wide/high16 v6, 0x4010000000000000L",
		"const-class v0, Ljava/lang/String;",
		"const-method-handle v0, invoke-static@Ljava/lang/Integer;->toString(I)Ljava/lang/String;",
		"const-method-type v0, (II)I",
		"check-cast v0, Ljava/lang/String;",
		"instance-of v0, v1, Ljava/lang/String;",
		"new-instance v0, Ljava/lang/StringBuilder;",
		"new-array v0, v1, [I",
		"array-length v0, v1",
		"goto :goto_0",
		"goto/16 :goto_1",
		"goto/32 :goto_2",
		"if-eq v0, v1, :cond_0",
		"if-ltz v0, :cond_1",
		"cmp-long v0, v2, v4",
		"cmpl-float v0, v1, v2",
		"aget v0, v1, v2",
		"aput-object v0, v1, v2",
		"iget v0, v1, Lfoo;->bar:I",
		"sput-object v0, Lfoo;->baz:Ljava/lang/String;",
		"add-int v0, v1, v2",
		"add-int/2addr v0, v1",
		"add-int/lit8 v0, v1, 0x7f",
		"rsub-int v0, v1, 0x10",
		"ushr-long/2addr v0, v2",
		"int-to-byte v0, v1",
		"packed-switch v0, :pswitch_data_0",
		"sparse-switch v0, :sswitch_data_0",
		"fill-array-data v0, :array_0",
		"filled-new-array {v0, v1, v2}, [I",
		"invoke-static {}, Lfoo;->now()J",
		"invoke-static {v0, v1}, Lfoo;->sum(II)I",
		"invoke-virtual {v0}, Ljava/lang/Object;->hashCode()I",
		"invoke-direct {v0}, Ljava/lang/Object;-><init>()V",
		"invoke-virtual/range {v0 .. v5}, Lfoo;->wide(IIJJ)V",
		"filled-new-array/range {v0 .. v2}, [Ljava/lang/String;",
	} {
		ins, err := parseInstruction(line, newLabelTable())
		if err != nil {
			t.Errorf("parse(%q): %v", line, err)
			continue
		}
		if got := ins.String(); got != line {
			t.Errorf("round trip of %q gave %q", line, got)
		}
	}
}

func TestInstructionConstString(t *testing.T) {
	ins, err := parseInstruction(`const-string v0, "AIzaSyTEST"`, newLabelTable())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ins.Data != "AIzaSyTEST" {
		t.Errorf("Data=%q, want quotes stripped", ins.Data)
	}
	if got := ins.String(); got != `const-string v0, "AIzaSyTEST"` {
		t.Errorf("String()=%q", got)
	}
}

func TestInstructionInvokeDecode(t *testing.T) {
	ins, err := parseInstruction("invoke-static {v0, v1}, Lcom/foo/Bar;->sum(II)I", newLabelTable())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ins.ClassName != "Lcom/foo/Bar;" {
		t.Errorf("ClassName=%q", ins.ClassName)
	}
	if ins.MethodSig != "sum(II)I" {
		t.Errorf("MethodSig=%q", ins.MethodSig)
	}
	if ins.InvokeReturnType() != "I" {
		t.Errorf("InvokeReturnType=%q", ins.InvokeReturnType())
	}
	if !reflect.DeepEqual(ins.Registers(), []string{"v0", "v1"}) {
		t.Errorf("Registers=%q", ins.Registers())
	}
}

func TestInstructionRangeEnumeration(t *testing.T) {
	ins, err := parseInstruction("invoke-virtual/range {v2 .. v5}, Lfoo;->m(III)V", newLabelTable())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"v2", "v3", "v4", "v5"}
	if !reflect.DeepEqual(ins.Registers(), want) {
		t.Errorf("Registers=%q, want %q", ins.Registers(), want)
	}
}

func TestInstructionUnknownOpcode(t *testing.T) {
	_, err := parseInstruction("frobnicate v0", newLabelTable())
	if _, ok := err.(unsupportedOpcodeError); !ok {
		t.Errorf("err=%v, want unsupportedOpcodeError", err)
	}
}

func TestInstructionLabelInterning(t *testing.T) {
	labels := newLabelTable()
	a, _ := parseInstruction("goto :loop", labels)
	b, _ := parseInstruction("if-eqz v0, :loop", labels)
	if a.Label() != b.Label() {
		t.Errorf("label :loop must intern to one instance per method")
	}
}
