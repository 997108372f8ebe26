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

import "encoding/json"

// Place locates a finding: a file path, a field, or an instruction
// inside a method.
type Place struct {
	Type   string // "file", "field" or "instruction"
	Value  string
	Class  string
	Method string
}

// Problem is a structured finding emitted by a plugin: a short kind
// name, a place, and free-form evidence.
type Problem struct {
	Name     string
	Place    Place
	Evidence map[string]string
}

// NewFileProblem reports a finding against a file.
func NewFileProblem(name, path string) *Problem {
	return &Problem{
		Name:     name,
		Place:    Place{Type: "file", Value: path},
		Evidence: make(map[string]string),
	}
}

// NewFieldProblem reports a finding against a field declaration.
func NewFieldProblem(name string, field *Field) *Problem {
	return &Problem{
		Name: name,
		Place: Place{
			Type:  "field",
			Class: field.Class().Name,
			Value: field.Name,
		},
		Evidence: make(map[string]string),
	}
}

// NewInstructionProblem reports a finding against an instruction.
func NewInstructionProblem(name string, ins *Instruction) *Problem {
	return &Problem{
		Name: name,
		Place: Place{
			Type:   "instruction",
			Value:  ins.String(),
			Class:  ins.Method().Class().Name,
			Method: ins.Method().Name,
		},
		Evidence: make(map[string]string),
	}
}

// With attaches one evidence entry and returns the problem for
// chaining.
func (p *Problem) With(key, value string) *Problem {
	p.Evidence[key] = value
	return p
}

// MarshalJSON flattens the problem into the report envelope:
// {name, place: {type, ...}, ...evidence}.
func (p *Problem) MarshalJSON() ([]byte, error) {
	place := map[string]string{
		"type":  p.Place.Type,
		"value": p.Place.Value,
	}
	if p.Place.Class != "" {
		place["class"] = p.Place.Class
	}
	if p.Place.Method != "" {
		place["method"] = p.Place.Method
	}
	out := make(map[string]interface{}, len(p.Evidence)+2)
	out["name"] = p.Name
	out["place"] = place
	for k, v := range p.Evidence {
		out[k] = v
	}
	return json.Marshal(out)
}
