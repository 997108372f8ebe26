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

import "strings"

// firstWord splits line at the first space. The remainder has its leading
// spaces removed.
func firstWord(line string) (string, string) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimLeft(line[i+1:], " ")
}

// lastWord returns the token after the last space.
func lastWord(line string) string {
	i := strings.LastIndexByte(line, ' ')
	if i < 0 {
		return line
	}
	return line[i+1:]
}

// unquote strips one level of surrounding double quotes if present.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// splitOperand cuts "vA, rest" at the first comma.
func splitOperand(line string) (string, string, bool) {
	i := strings.IndexByte(line, ',')
	if i < 0 {
		return "", "", false
	}
	return strings.TrimRight(line[:i], " "), strings.TrimLeft(line[i+1:], " "), true
}

// parseParamTypes splits a concatenation of Dalvik type descriptors into
// individual descriptors. Primitives are single letters, references run
// from 'L' to ';', and any number of '[' prefixes an array dimension.
func parseParamTypes(s string) []string {
	var params []string
	i := 0
	for i < len(s) {
		j := i
		for j < len(s) && s[j] == '[' {
			j++
		}
		if j < len(s) && s[j] == 'L' {
			k := strings.IndexByte(s[j:], ';')
			if k < 0 {
				// Unterminated reference; take the rest as one descriptor.
				params = append(params, s[i:])
				break
			}
			params = append(params, s[i:j+k+1])
			i = j + k + 1
			continue
		}
		if j < len(s) {
			j++
		}
		params = append(params, s[i:j])
		i = j
	}
	return params
}
