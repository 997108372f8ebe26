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

func TestParseParamTypes(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want []string
	}{
		{
			in:   "",
			want: nil,
		},
		{
			in:   "I",
			want: []string{"I"},
		},
		{
			in:   "IJZ",
			want: []string{"I", "J", "Z"},
		},
		{
			in:   "Ljava/lang/String;",
			want: []string{"Ljava/lang/String;"},
		},
		{
			in:   "ILjava/lang/String;J",
			want: []string{"I", "Ljava/lang/String;", "J"},
		},
		{
			in:   "[I",
			want: []string{"[I"},
		},
		{
			in:   "[[Ljava/lang/String;I",
			want: []string{"[[Ljava/lang/String;", "I"},
		},
		{
			in:   "[B[B",
			want: []string{"[B", "[B"},
		},
	} {
		got := parseParamTypes(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parseParamTypes(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFirstWord(t *testing.T) {
	for _, tc := range []struct {
		in   string
		word string
		rest string
	}{
		{in: "const/4 v0, 0x1", word: "const/4", rest: "v0, 0x1"},
		{in: "return-void", word: "return-void", rest: ""},
		{in: ".registers  4", word: ".registers", rest: "4"},
	} {
		word, rest := firstWord(tc.in)
		if word != tc.word || rest != tc.rest {
			t.Errorf("firstWord(%q)=(%q,%q), want (%q,%q)", tc.in, word, rest, tc.word, tc.rest)
		}
	}
}

func TestSplitOperand(t *testing.T) {
	reg, rest, ok := splitOperand("v0, v1, 0x10")
	if !ok || reg != "v0" || rest != "v1, 0x10" {
		t.Errorf("splitOperand=(%q,%q,%v), want (v0, v1, 0x10, true)", reg, rest, ok)
	}
	if _, _, ok := splitOperand("v0"); ok {
		t.Errorf("splitOperand(%q) should fail", "v0")
	}
}
