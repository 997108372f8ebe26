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
	"bufio"
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// classCacheCap bounds the number of parsed classes kept in memory.
const classCacheCap = 1000

// LoadedClass is a resolved class: either a user class parsed from disk
// or a framework stub instance. Exactly one field is set.
type LoadedClass struct {
	User      *Class
	Framework FrameworkClass
}

func (lc *LoadedClass) Name() string {
	if lc.Framework != nil {
		return lc.Framework.ClassName()
	}
	return lc.User.Name
}

func (lc *LoadedClass) IsFramework() bool { return lc.Framework != nil }

type cacheEntry struct {
	path string
	cls  *Class
}

// VM is the symbolic execution engine for one extracted APK: the class
// pre-index, the parsed-class cache, and the breakpoint bus plugins
// attach to. The cache is populated lazily under a mutex; register files
// and values are never shared across goroutines.
type VM struct {
	mu         sync.Mutex
	classFiles map[string]string
	cacheList  *list.List
	cacheMap   map[string]*list.Element
	bps        *Breakpoints
}

// NewVM pre-indexes the smali directory, reading only the first line of
// each file to learn its class name.
func NewVM(smaliDir string) (*VM, error) {
	vm := &VM{
		classFiles: make(map[string]string),
		cacheList:  list.New(),
		cacheMap:   make(map[string]*list.Element),
		bps:        NewBreakpoints(),
	}
	if smaliDir != "" {
		err := filepath.Walk(smaliDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !strings.HasSuffix(path, ".smali") {
				return nil
			}
			name, err := readClassName(path)
			if err != nil {
				glog.Warningf("skipping %s: %v", path, err)
				return nil
			}
			vm.classFiles[name] = path
			return nil
		})
		if err != nil {
			return nil, err
		}
		glog.Infof("indexed %d classes under %s", len(vm.classFiles), smaliDir)
	}
	return vm, nil
}

// readClassName extracts the class name from a file's .class line.
func readClassName(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return "", fmt.Errorf("empty smali file")
	}
	line := cleanLine(scanner.Text())
	if !strings.HasPrefix(line, ".class ") {
		return "", fmt.Errorf("missing .class header: %q", line)
	}
	return lastWord(line), nil
}

// Breakpoints returns the bus plugins register observers on.
func (vm *VM) Breakpoints() *Breakpoints { return vm.bps }

// ClassCount reports how many classes the pre-index knows, framework
// stubs excluded.
func (vm *VM) ClassCount() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.classFiles)
}

// ClassNames lists the indexed on-disk classes in stable order.
func (vm *VM) ClassNames() []string {
	vm.mu.Lock()
	names := make([]string, 0, len(vm.classFiles))
	for name := range vm.classFiles {
		names = append(names, name)
	}
	vm.mu.Unlock()
	sort.Strings(names)
	return names
}

// LoadClass resolves a class name to a loaded record. Framework stubs
// take precedence over on-disk classes and are instantiated fresh per
// load. Unknown names and classes that fail to parse yield nil; the
// interpreter translates nil to Unknown.
func (vm *VM) LoadClass(name string) *LoadedClass {
	if factory, ok := frameworkFactory(name); ok {
		return &LoadedClass{Framework: factory()}
	}
	vm.mu.Lock()
	path, ok := vm.classFiles[name]
	if !ok {
		vm.mu.Unlock()
		return nil
	}
	if el, ok := vm.cacheMap[path]; ok {
		vm.cacheList.MoveToFront(el)
		cls := el.Value.(*cacheEntry).cls
		vm.mu.Unlock()
		return &LoadedClass{User: cls}
	}
	vm.mu.Unlock()

	cls, err := parseClassFile(path)
	if err != nil {
		glog.Errorf("failed to load class %s: %v", name, err)
		return nil
	}

	vm.mu.Lock()
	if _, ok := vm.cacheMap[path]; !ok {
		el := vm.cacheList.PushFront(&cacheEntry{path: path, cls: cls})
		vm.cacheMap[path] = el
		for vm.cacheList.Len() > classCacheCap {
			oldest := vm.cacheList.Back()
			vm.cacheList.Remove(oldest)
			delete(vm.cacheMap, oldest.Value.(*cacheEntry).path)
		}
	}
	vm.mu.Unlock()
	return &LoadedClass{User: cls}
}

// RunAllMethods interprets every concrete method of a class. The first
// per-method failure bubbles up; the caller decides whether to continue
// with the next class.
func (vm *VM) RunAllMethods(c *Class) error {
	for _, m := range c.Methods {
		if m.IsAbstract() || m.IsNative() {
			continue
		}
		mr := &methodRunner{method: m, vm: vm, bps: vm.bps}
		if _, err := mr.run(); err != nil {
			return fmt.Errorf("%s: %v", m.FullSignature(), err)
		}
	}
	return nil
}

// InvokeMethod interprets one method by name with the given argument
// values and returns its merged return value.
func (vm *VM) InvokeMethod(className, methodName string, paramTypes []string, args ...*Value) (*Value, error) {
	lc := vm.LoadClass(className)
	if lc == nil {
		return nil, fmt.Errorf("class %s not found", className)
	}
	if lc.Framework != nil {
		v, handled := lc.Framework.Invoke(methodName, args)
		if !handled {
			return newUnknown(), nil
		}
		return v, nil
	}
	m := lc.User.method(methodName, paramTypes)
	if m == nil {
		return nil, fmt.Errorf("method %s.%s%s not found", className, methodName, strings.Join(paramTypes, ""))
	}
	if m.IsAbstract() || m.IsNative() {
		return nil, abstractMethodError{m.FullSignature()}
	}
	mr := &methodRunner{method: m, vm: vm, bps: vm.bps}
	return mr.run(args...)
}
