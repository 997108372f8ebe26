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
	"encoding/json"
	"testing"
)

func TestProblemJSONEnvelope(t *testing.T) {
	c := parseTestClass(t, testClassSource)
	m := c.Method("key()Ljava/lang/String;")
	var ins *Instruction
	for _, item := range m.Items {
		if i, ok := item.(*Instruction); ok && i.Op == "const-string" {
			ins = i
		}
	}
	if ins == nil {
		t.Fatal("const-string not found")
	}
	p := NewInstructionProblem("hardcoded_token", ins).With("token", "AIzaSyTEST")
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"name":"hardcoded_token","place":{"class":"Lcom/example/Config;","method":"key","type":"instruction","value":"const-string v0, \"AIzaSyTEST\""},"token":"AIzaSyTEST"}`
	if string(data) != want {
		t.Errorf("envelope=%s\nwant %s", data, want)
	}
}

func TestProblemPlaces(t *testing.T) {
	fp := NewFileProblem("world_readable", "res/xml/backup.xml")
	if fp.Place.Type != "file" || fp.Place.Value != "res/xml/backup.xml" {
		t.Errorf("file place=%+v", fp.Place)
	}
	c := parseTestClass(t, `
.class Lf;
.super Ljava/lang/Object;
.field public static KEY:Ljava/lang/String; = "s3cret"
`)
	p := NewFieldProblem("hardcoded_secret", c.Field("KEY"))
	if p.Place.Type != "field" || p.Place.Class != "Lf;" || p.Place.Value != "KEY" {
		t.Errorf("field place=%+v", p.Place)
	}
}
