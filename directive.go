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

// Item is one entry of a method body: an *Instruction, a *Label, or a
// Directive.
type Item interface {
	String() string
}

// Directive is a typed ".name" record inside a class or method body.
type Directive interface {
	Item
	directiveName() string
}

// RegistersDirective declares the register count of a method.
type RegistersDirective struct {
	Count int
}

func (d *RegistersDirective) directiveName() string { return "registers" }
func (d *RegistersDirective) String() string        { return fmt.Sprintf(".registers %d", d.Count) }

// LocalsDirective declares the local register count of a method.
type LocalsDirective struct {
	Count int
}

func (d *LocalsDirective) directiveName() string { return "locals" }
func (d *LocalsDirective) String() string        { return fmt.Sprintf(".locals %d", d.Count) }

// CatchDirective is a .catch or .catchall handler declaration.
type CatchDirective struct {
	ExcType string // empty for catchall
	Start   *Label
	End     *Label
	Handler *Label
	All     bool
}

func (d *CatchDirective) directiveName() string {
	if d.All {
		return "catchall"
	}
	return "catch"
}

func (d *CatchDirective) String() string {
	if d.All {
		return fmt.Sprintf(".catchall {%s .. %s} %s", d.Start, d.End, d.Handler)
	}
	return fmt.Sprintf(".catch %s {%s .. %s} %s", d.ExcType, d.Start, d.End, d.Handler)
}

// ArrayDataDirective is a fill-array-data payload: the element width and
// the literal values in source order.
type ArrayDataDirective struct {
	Width  string
	Values []string
}

func (d *ArrayDataDirective) directiveName() string { return "array-data" }

func (d *ArrayDataDirective) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, ".array-data %s\n", d.Width)
	for _, v := range d.Values {
		fmt.Fprintf(&b, "    %s\n", v)
	}
	b.WriteString(".end array-data")
	return b.String()
}

// PackedSwitchDirective is a packed-switch payload: a base key and the
// ordered case labels.
type PackedSwitchDirective struct {
	FirstKey int64
	Targets  []*Label
}

func (d *PackedSwitchDirective) directiveName() string { return "packed-switch" }

func (d *PackedSwitchDirective) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, ".packed-switch %#x\n", d.FirstKey)
	for _, t := range d.Targets {
		fmt.Fprintf(&b, "    %s\n", t)
	}
	b.WriteString(".end packed-switch")
	return b.String()
}

// lookup returns the target label for key, if the table covers it.
func (d *PackedSwitchDirective) lookup(key int64) (*Label, bool) {
	i := key - d.FirstKey
	if i < 0 || i >= int64(len(d.Targets)) {
		return nil, false
	}
	return d.Targets[i], true
}

// SparseSwitchDirective is a sparse-switch payload: keys and their case
// labels in source order.
type SparseSwitchDirective struct {
	Keys    []int64
	Targets []*Label
}

func (d *SparseSwitchDirective) directiveName() string { return "sparse-switch" }

func (d *SparseSwitchDirective) String() string {
	var b strings.Builder
	b.WriteString(".sparse-switch\n")
	for i, k := range d.Keys {
		fmt.Fprintf(&b, "    %#x -> %s\n", k, d.Targets[i])
	}
	b.WriteString(".end sparse-switch")
	return b.String()
}

func (d *SparseSwitchDirective) lookup(key int64) (*Label, bool) {
	for i, k := range d.Keys {
		if k == key {
			return d.Targets[i], true
		}
	}
	return nil, false
}

// AnnotationValue is one annotation element: a raw literal, a value
// list, or a nested subannotation.
type AnnotationValue struct {
	Key  string
	Str  string
	List []string
	Sub  *AnnotationDirective
}

// AnnotationDirective is an .annotation (or nested .subannotation) tree.
type AnnotationDirective struct {
	Visibility string // empty for subannotations
	Name       string
	Values     []AnnotationValue
}

func (d *AnnotationDirective) directiveName() string { return "annotation" }

func (d *AnnotationDirective) String() string {
	if d.Visibility == "" {
		return fmt.Sprintf(".subannotation %s", d.Name)
	}
	return fmt.Sprintf(".annotation %s %s", d.Visibility, d.Name)
}

// Value returns the element value for key as its raw literal.
func (d *AnnotationDirective) Value(key string) (string, bool) {
	for _, v := range d.Values {
		if v.Key == key {
			return v.Str, true
		}
	}
	return "", false
}

// Debug directives carry no execution semantics and are consumed and
// discarded at parse time.
var skipDirectives = map[string]bool{
	"prologue":      true,
	"line":          true,
	"local":         true,
	"end local":     true,
	"param":         true,
	"restart local": true,
}

// parseDirective parses the directive the reader is positioned at. A nil
// directive with nil error means the directive was a skippable debug
// directive.
func parseDirective(r *reader, labels *labelTable) (Directive, error) {
	line, ok := r.peek()
	if !ok {
		return nil, fmt.Errorf("no directive to parse")
	}
	parts := strings.SplitN(line, " ", 3)
	name := strings.TrimPrefix(parts[0], ".")
	if (name == "end" || name == "restart") && len(parts) > 1 {
		name = name + " " + parts[1]
	}
	if skipDirectives[name] {
		if name == "param" {
			return nil, skipParam(r, labels)
		}
		r.next()
		return nil, nil
	}
	switch name {
	case "registers":
		line, _ = r.next()
		n, err := strconv.Atoi(lastWord(line))
		if err != nil {
			return nil, fmt.Errorf("invalid .registers count: %q", line)
		}
		return &RegistersDirective{Count: n}, nil
	case "locals":
		line, _ = r.next()
		n, err := strconv.Atoi(lastWord(line))
		if err != nil {
			return nil, fmt.Errorf("invalid .locals count: %q", line)
		}
		return &LocalsDirective{Count: n}, nil
	case "catch", "catchall":
		return parseCatch(r, labels, name == "catchall")
	case "array-data":
		return parseArrayData(r)
	case "packed-switch":
		return parsePackedSwitch(r, labels)
	case "sparse-switch":
		return parseSparseSwitch(r, labels)
	case "annotation", "subannotation":
		return parseAnnotation(r, labels)
	}
	return nil, fmt.Errorf("invalid directive: %s", name)
}

func parseCatch(r *reader, labels *labelTable, all bool) (*CatchDirective, error) {
	line, _ := r.next()
	lb := strings.IndexByte(line, '{')
	rb := strings.IndexByte(line, '}')
	if lb < 0 || rb < lb {
		return nil, fmt.Errorf("invalid catch directive: %q", line)
	}
	d := &CatchDirective{All: all}
	if !all {
		_, rest := firstWord(line[:lb])
		d.ExcType = strings.TrimSpace(rest)
	}
	span := strings.Split(line[lb+1:rb], "..")
	if len(span) != 2 {
		return nil, fmt.Errorf("invalid catch range: %q", line)
	}
	start := strings.TrimSpace(span[0])
	end := strings.TrimSpace(span[1])
	handler := lastWord(line)
	if !strings.HasPrefix(start, ":") || !strings.HasPrefix(end, ":") || !strings.HasPrefix(handler, ":") {
		return nil, fmt.Errorf("invalid catch labels: %q", line)
	}
	d.Start = labels.intern(start[1:])
	d.End = labels.intern(end[1:])
	d.Handler = labels.intern(handler[1:])
	return d, nil
}

func parseArrayData(r *reader) (*ArrayDataDirective, error) {
	line, _ := r.next()
	d := &ArrayDataDirective{Width: lastWord(line)}
	for {
		line, ok := r.next()
		if !ok {
			return nil, fmt.Errorf("array-data missing .end array-data")
		}
		if line == ".end array-data" {
			return d, nil
		}
		d.Values = append(d.Values, line)
	}
}

func parsePackedSwitch(r *reader, labels *labelTable) (*PackedSwitchDirective, error) {
	line, _ := r.next()
	key, err := parseHexLiteral(lastWord(line))
	if err != nil {
		return nil, fmt.Errorf("invalid packed-switch key: %q", line)
	}
	d := &PackedSwitchDirective{FirstKey: key}
	for {
		line, ok := r.next()
		if !ok {
			return nil, fmt.Errorf("packed-switch missing .end packed-switch")
		}
		if line == ".end packed-switch" {
			return d, nil
		}
		if !strings.HasPrefix(line, ":") {
			return nil, fmt.Errorf("invalid packed-switch target: %q", line)
		}
		d.Targets = append(d.Targets, labels.intern(line[1:]))
	}
}

func parseSparseSwitch(r *reader, labels *labelTable) (*SparseSwitchDirective, error) {
	r.next()
	d := &SparseSwitchDirective{}
	for {
		line, ok := r.next()
		if !ok {
			return nil, fmt.Errorf("sparse-switch missing .end sparse-switch")
		}
		if line == ".end sparse-switch" {
			return d, nil
		}
		i := strings.Index(line, "->")
		if i < 0 {
			return nil, fmt.Errorf("invalid sparse-switch entry: %q", line)
		}
		key, err := parseHexLiteral(strings.TrimSpace(line[:i]))
		if err != nil {
			return nil, fmt.Errorf("invalid sparse-switch key: %q", line)
		}
		target := strings.TrimSpace(line[i+2:])
		if !strings.HasPrefix(target, ":") {
			return nil, fmt.Errorf("invalid sparse-switch target: %q", line)
		}
		d.Keys = append(d.Keys, key)
		d.Targets = append(d.Targets, labels.intern(target[1:]))
	}
}

func parseAnnotation(r *reader, labels *labelTable) (*AnnotationDirective, error) {
	line, _ := r.next()
	parts := strings.Split(line, " ")
	d := &AnnotationDirective{}
	switch {
	case strings.HasPrefix(line, ".annotation ") && len(parts) >= 3:
		d.Visibility = parts[1]
		d.Name = parts[2]
	case strings.HasPrefix(line, ".subannotation ") && len(parts) >= 2:
		d.Name = parts[1]
	default:
		return nil, fmt.Errorf("invalid annotation: %q", line)
	}
	for {
		line, ok := r.next()
		if !ok {
			return nil, fmt.Errorf("annotation missing .end annotation")
		}
		if line == ".end annotation" || line == ".end subannotation" || line == ".end subannotation," {
			return d, nil
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("invalid annotation element: %q", line)
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		switch {
		case strings.HasPrefix(value, ".subannotation "):
			r.prepend(value)
			sub, err := parseAnnotation(r, labels)
			if err != nil {
				return nil, err
			}
			d.Values = append(d.Values, AnnotationValue{Key: key, Sub: sub})
		case value == "{}":
			d.Values = append(d.Values, AnnotationValue{Key: key, List: []string{}})
		case value == "{":
			var list []string
			for {
				line, ok := r.next()
				if !ok {
					return nil, fmt.Errorf("annotation value list missing }")
				}
				if line == "}" {
					break
				}
				if strings.HasPrefix(line, ".subannotation ") {
					r.prepend(line)
					if _, err := parseAnnotation(r, labels); err != nil {
						return nil, err
					}
					continue
				}
				list = append(list, strings.TrimSuffix(line, ","))
			}
			d.Values = append(d.Values, AnnotationValue{Key: key, List: list})
		default:
			d.Values = append(d.Values, AnnotationValue{Key: key, Str: value})
		}
	}
}

// skipParam consumes a .param directive, including a multi-line body
// holding nested annotations.
func skipParam(r *reader, labels *labelTable) error {
	r.next()
	// Lookahead: a .param body continues only with annotations and is
	// closed by .end param; anything else means the directive was a
	// one-liner and the lines seen belong to the caller.
	var seen []string
	multiline := false
	inAnnotation := false
	for {
		line, ok := r.next()
		if !ok {
			break
		}
		seen = append(seen, line)
		if inAnnotation {
			if line == ".end annotation" {
				inAnnotation = false
			}
			continue
		}
		if strings.HasPrefix(line, ".annotation ") {
			inAnnotation = true
			continue
		}
		if line == ".end param" {
			multiline = true
		}
		break
	}
	r.prepend(seen...)
	if !multiline {
		return nil
	}
	for {
		line, ok := r.next()
		if !ok {
			return fmt.Errorf(".param missing .end param")
		}
		if line == ".end param" {
			return nil
		}
		if strings.HasPrefix(line, ".annotation ") {
			r.prepend(line)
			if _, err := parseAnnotation(r, labels); err != nil {
				return err
			}
		}
	}
}
