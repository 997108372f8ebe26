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
	"io/ioutil"
	"strings"

	"github.com/golang/glog"
)

// parseError is a structural parse failure, fatal for the class being
// parsed but never for its siblings.
type parseError struct {
	File string
	Err  error
}

func (e parseError) Error() string {
	if e.File == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e parseError) Unwrap() error { return e.Err }

// parseClassFile reads and parses one .smali file.
func parseClassFile(path string) (*Class, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := parseClass(newReader(string(content)))
	if err != nil {
		return nil, parseError{File: path, Err: err}
	}
	return c, nil
}

// parseClass parses a class from a reader positioned at its .class line.
func parseClass(r *reader) (*Class, error) {
	c := &Class{}
	directSection := false
	virtualSection := false
	for {
		line, ok := r.next()
		if !ok {
			break
		}
		if strings.HasPrefix(line, "#") {
			switch line {
			case "# direct methods":
				directSection = true
			case "# virtual methods":
				virtualSection = true
			default:
				return nil, fmt.Errorf("invalid comment: %q in class %s", line, c.Name)
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, ".class "):
			parts := strings.Split(line, " ")
			c.Name = parts[len(parts)-1]
			c.Flags = parts[1 : len(parts)-1]
		case strings.HasPrefix(line, ".super "):
			c.Super = lastWord(line)
		case strings.HasPrefix(line, ".source "):
			c.Source = unquote(lastWord(line))
		case strings.HasPrefix(line, ".implements "):
			c.Implements = append(c.Implements, lastWord(line))
		case strings.HasPrefix(line, ".annotation "):
			r.prepend(line)
			a, err := parseAnnotation(r, newLabelTable())
			if err != nil {
				return nil, err
			}
			c.Annotations = append(c.Annotations, a)
		case strings.HasPrefix(line, ".field "):
			r.prepend(line)
			f, err := parseField(r)
			if err != nil {
				return nil, err
			}
			f.class = c
			c.Fields = append(c.Fields, f)
		case strings.HasPrefix(line, ".method "):
			r.prepend(line)
			m, err := parseMethod(r)
			if err != nil {
				return nil, err
			}
			m.class = c
			switch {
			case virtualSection:
				m.Virtual = true
			case directSection:
				m.Direct = true
			default:
				return nil, fmt.Errorf("method %s in class %s must be one of virtual or direct", m.Name, c.Name)
			}
			c.Methods = append(c.Methods, m)
		default:
			return nil, fmt.Errorf("invalid line: %q in class %s", line, c.Name)
		}
	}
	if c.Name == "" {
		return nil, fmt.Errorf("missing .class directive")
	}
	if glog.V(2) {
		glog.Infof("parsed class %s: %d fields, %d methods", c.Name, len(c.Fields), len(c.Methods))
	}
	return c, nil
}

// parseField parses a .field line and its optional annotation block.
func parseField(r *reader) (*Field, error) {
	line, ok := r.next()
	if !ok || !strings.HasPrefix(line, ".field ") {
		return nil, fmt.Errorf("invalid field line: %q", line)
	}
	f := &Field{}
	parts := strings.Split(line, " ")[1:]
	sig := -1
	for i, part := range parts {
		if strings.Contains(part, ":") {
			sig = i
			break
		}
		f.Flags = append(f.Flags, part)
	}
	if sig < 0 {
		return nil, fmt.Errorf("invalid field line: %q", line)
	}
	sigParts := strings.SplitN(parts[sig], ":", 2)
	f.Name = sigParts[0]
	f.Type = sigParts[1]
	if len(parts) > sig+2 && parts[sig+1] == "=" {
		f.HasInitial = true
		f.InitialValue = strings.Join(parts[sig+2:], " ")
		if f.Type == "Ljava/lang/String;" {
			f.InitialValue = unquote(f.InitialValue)
		}
	}
	next, ok := r.peek()
	if ok && strings.HasPrefix(next, ".annotation") {
		for {
			line, ok := r.next()
			if !ok {
				return nil, fmt.Errorf("field %s missing .end field", f.Name)
			}
			if line == ".end field" {
				break
			}
			if !strings.HasPrefix(line, ".annotation ") {
				return nil, fmt.Errorf("invalid line in field %s: %q", f.Name, line)
			}
			r.prepend(line)
			a, err := parseAnnotation(r, newLabelTable())
			if err != nil {
				return nil, err
			}
			f.Annotations = append(f.Annotations, a)
		}
	}
	return f, nil
}

// parseMethod parses a .method block. The register count is the declared
// .registers value, or .locals + parameter slots + one for the receiver
// of a non-static method, with wide parameters consuming two slots.
func parseMethod(r *reader) (*Method, error) {
	line, ok := r.next()
	if !ok || !strings.HasPrefix(line, ".method") {
		return nil, fmt.Errorf("invalid method line: %q", line)
	}
	m := &Method{}
	parts := strings.Split(line, " ")[1:]
	signature := parts[len(parts)-1]
	lb := strings.IndexByte(signature, '(')
	rb := strings.LastIndexByte(signature, ')')
	if lb < 0 || rb < lb {
		return nil, fmt.Errorf("invalid method signature: %q", signature)
	}
	m.Name = signature[:lb]
	m.ReturnType = signature[rb+1:]
	m.ParamTypes = parseParamTypes(signature[lb+1 : rb])
	m.Flags = parts[:len(parts)-1]

	labels := newLabelTable()
	for {
		line, ok := r.next()
		if !ok {
			return nil, fmt.Errorf("method %s missing .end method", m.Name)
		}
		if line == ".end method" {
			break
		}
		if m.parseErr != nil {
			// The body is unusable past an unsupported mnemonic; consume
			// the remaining lines so sibling methods still parse.
			continue
		}
		r.prepend(line)
		item, err := parseItem(m, r, labels)
		if err != nil {
			if _, ok := err.(unsupportedOpcodeError); ok {
				glog.V(1).Infof("method %s: %v", m.Name, err)
				m.parseErr = err
				r.next()
				continue
			}
			return nil, err
		}
		switch it := item.(type) {
		case nil:
			// skipped debug directive
		case *RegistersDirective:
			m.RegistersCount = it.Count
		case *LocalsDirective:
			slots := 0
			for _, p := range m.ParamTypes {
				slots++
				if p == "J" || p == "D" {
					slots++
				}
			}
			if !m.IsStatic() {
				slots++
			}
			m.RegistersCount = it.Count + slots
		default:
			m.Items = append(m.Items, it)
		}
	}
	return m, nil
}

// parseItem parses the next body line into a label, a directive, or an
// instruction. It returns (nil, nil) for discarded debug directives.
func parseItem(m *Method, r *reader, labels *labelTable) (Item, error) {
	line, ok := r.peek()
	if !ok {
		return nil, fmt.Errorf("no data to parse")
	}
	switch line[0] {
	case '.':
		d, err := parseDirective(r, labels)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, nil
		}
		return d, nil
	case ':':
		line, _ = r.next()
		return parseLabel(line, labels)
	}
	line, _ = r.next()
	ins, err := parseInstruction(line, labels)
	if err != nil {
		if _, ok := err.(unsupportedOpcodeError); ok {
			// Leave the line for the caller to discard.
			r.prepend(line)
		}
		return nil, err
	}
	ins.method = m
	return ins, nil
}
