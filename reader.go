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
	"strings"
)

// Comments that carry structure and must survive stripping: they switch
// the method section the class parser is in.
var preservedComments = map[string]bool{
	"# direct methods":  true,
	"# virtual methods": true,
}

// reader yields non-empty, trimmed, comment-stripped smali lines and
// supports pushing lines back for one-line lookahead in the parsers.
type reader struct {
	lines   []string
	pos     int
	pending []string // LIFO push-back stack
}

func newReader(content string) *reader {
	return &reader{lines: strings.Split(content, "\n")}
}

func newReaderLines(lines []string) *reader {
	return &reader{lines: lines}
}

// cleanLine trims the line and strips trailing comments. '#' inside a
// double-quoted literal does not start a comment; backslash-escaped
// quotes do not close the literal.
func cleanLine(line string) string {
	line = strings.TrimRight(line, "\r")
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if !strings.Contains(line, "#") || preservedComments[line] {
		return line
	}
	var b strings.Builder
	inString := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' && i+1 < len(line) && (line[i+1] == '"' || line[i+1] == '#') {
			b.WriteByte(c)
			b.WriteByte(line[i+1])
			i++
			continue
		}
		if c == '"' {
			inString = !inString
		}
		if c == '#' && !inString {
			break
		}
		b.WriteByte(c)
	}
	return strings.TrimSpace(b.String())
}

// next returns the next meaningful line, or false at end of input.
func (r *reader) next() (string, bool) {
	for len(r.pending) > 0 {
		line := r.pending[len(r.pending)-1]
		r.pending = r.pending[:len(r.pending)-1]
		line = cleanLine(line)
		if line != "" {
			return line, true
		}
	}
	for r.pos < len(r.lines) {
		line := cleanLine(r.lines[r.pos])
		r.pos++
		if line != "" {
			return line, true
		}
	}
	return "", false
}

// peek returns the next meaningful line without consuming it.
func (r *reader) peek() (string, bool) {
	line, ok := r.next()
	if !ok {
		return "", false
	}
	r.prepend(line)
	return line, true
}

// prepend pushes lines to the head of the stream in the given order, so
// the first argument is returned by the following next call.
func (r *reader) prepend(lines ...string) {
	for i := len(lines) - 1; i >= 0; i-- {
		r.pending = append(r.pending, lines[i])
	}
}
