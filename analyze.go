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
	"path/filepath"
	"sync"

	"github.com/golang/glog"
)

// defaultJobs is the analyzer worker pool size: analysis is parallel
// across APKs, sequential within one.
const defaultJobs = 3

// Analyzer runs the engine over extracted-APK directories with a set of
// plugins attached.
type Analyzer struct {
	Plugins   []Plugin
	Jobs      int
	ReportDir string // empty disables report files
}

type apkResult struct {
	dir      string
	problems []*Problem
	err      error
}

// Run analyzes every directory on a small worker pool and returns the
// union of plugin findings. Per-APK failures are logged and do not stop
// the other analyses.
func (a *Analyzer) Run(dirs []string) ([]*Problem, error) {
	jobs := a.Jobs
	if jobs <= 0 {
		jobs = defaultJobs
	}
	work := make(chan string)
	results := make(chan apkResult)
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for dir := range work {
				problems, err := a.analyzeAPK(dir)
				results <- apkResult{dir: dir, problems: problems, err: err}
			}
		}()
	}
	go func() {
		for _, dir := range dirs {
			work <- dir
		}
		close(work)
		wg.Wait()
		close(results)
	}()

	var all []*Problem
	for res := range results {
		if res.err != nil {
			glog.Errorf("analysis of %s failed: %v", res.dir, res.err)
			continue
		}
		all = append(all, res.problems...)
	}
	return all, nil
}

// analyzeAPK runs the per-APK flow: manifest check, plugin OnStart,
// class iteration with OnClass and method interpretation, problem
// draining, report writing.
func (a *Analyzer) analyzeAPK(dir string) ([]*Problem, error) {
	apk := NewApk(dir)
	manifest, err := apk.Manifest()
	if err != nil {
		return nil, fmt.Errorf("manifest: %v", err)
	}
	if manifest.Package == "" {
		return nil, fmt.Errorf("manifest has no package name")
	}
	apkInfo := fmt.Sprintf("%s_v%s_%s", manifest.Package, manifest.VersionName, manifest.VersionCode)
	glog.Infof("analyzing %s", apkInfo)

	vm, err := NewVM(apk.SmaliDir())
	if err != nil {
		return nil, err
	}
	for _, p := range a.Plugins {
		p.OnStart(apk, vm)
	}

	var problems []*Problem
	for _, name := range vm.ClassNames() {
		lc := vm.LoadClass(name)
		if lc == nil || lc.IsFramework() {
			continue
		}
		for _, p := range a.Plugins {
			p.OnClass(vm, lc.User)
		}
		if err := vm.RunAllMethods(lc.User); err != nil {
			glog.Errorf("%s: %v", name, err)
		}
		for _, p := range a.Plugins {
			problems = append(problems, p.Drain()...)
		}
	}

	if a.ReportDir != "" {
		report := filepath.Join(a.ReportDir, apkInfo+"_report.json")
		if err := SaveReport(report, problems); err != nil {
			return nil, err
		}
	}
	return problems, nil
}
