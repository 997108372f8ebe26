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

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/vulnapk/smalivm"
)

type dirList []string

func (d *dirList) String() string { return fmt.Sprint(*d) }

func (d *dirList) Set(v string) error {
	*d = append(*d, v)
	return nil
}

var (
	dirs            dirList
	jobsFlag        int
	reportDir       string
	syntaxCheckOnly bool
)

func init() {
	flag.Var(&dirs, "d", "Extracted APK directory to analyze (repeatable)")
	flag.IntVar(&jobsFlag, "j", 3, "Allow N concurrent APK analyses.")
	flag.StringVar(&reportDir, "o", ".", "Output reports directory")
	flag.BoolVar(&syntaxCheckOnly, "c", false, "Syntax check only.")
}

func syntaxCheck(dirs []string) int {
	failures := 0
	for _, dir := range dirs {
		apk := smalivm.NewApk(dir)
		vm, err := smalivm.NewVM(apk.SmaliDir())
		if err != nil {
			glog.Errorf("%s: %v", dir, err)
			failures++
			continue
		}
		for _, name := range vm.ClassNames() {
			if vm.LoadClass(name) == nil {
				failures++
			}
		}
		glog.Infof("%s: checked %d classes", dir, vm.ClassCount())
	}
	return failures
}

func main() {
	flag.Parse()
	defer glog.Flush()
	if len(dirs) == 0 {
		fmt.Fprintln(os.Stderr, "usage: smalivm -d <extracted-apk-dir> [-d ...] [-c] [-o reports]")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if syntaxCheckOnly {
		if failures := syntaxCheck(dirs); failures > 0 {
			os.Exit(1)
		}
		return
	}
	analyzer := &smalivm.Analyzer{
		Jobs:      jobsFlag,
		ReportDir: reportDir,
	}
	problems, err := analyzer.Run(dirs)
	if err != nil {
		glog.Errorf("analysis failed: %v", err)
		os.Exit(1)
	}
	glog.Infof("analysis finished: %d problems", len(problems))
}
