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

import "path/filepath"

// Plugin is an external detector. OnStart runs once per APK before any
// class is visited; OnClass runs per non-framework class. Plugins buffer
// findings, which the analyzer drains after each class.
type Plugin interface {
	OnStart(apk *Apk, vm *VM)
	OnClass(vm *VM, class *Class)
	Drain() []*Problem
}

// BasePlugin provides the problem buffer; embed it and override the
// hooks that matter.
type BasePlugin struct {
	problems []*Problem
}

func (b *BasePlugin) OnStart(*Apk, *VM)   {}
func (b *BasePlugin) OnClass(*VM, *Class) {}

// AddProblem buffers a finding for the owning plugin.
func (b *BasePlugin) AddProblem(p *Problem) {
	b.problems = append(b.problems, p)
}

// Drain returns and clears the buffered findings.
func (b *BasePlugin) Drain() []*Problem {
	out := b.problems
	b.problems = nil
	return out
}

// Apk is a handle to one already-extracted APK directory.
type Apk struct {
	dir string
}

func NewApk(dir string) *Apk {
	return &Apk{dir: dir}
}

func (a *Apk) Dir() string { return a.dir }

// SmaliDir is the decompiled bytecode root.
func (a *Apk) SmaliDir() string {
	return filepath.Join(a.dir, "smali")
}

// Manifest parses the APK's AndroidManifest.xml.
func (a *Apk) Manifest() (*Manifest, error) {
	return ParseManifest(filepath.Join(a.dir, "AndroidManifest.xml"))
}
