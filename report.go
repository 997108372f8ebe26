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
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/golang/glog"
)

// WriteReport serializes problems as the pretty-printed JSON report
// envelope.
func WriteReport(w io.Writer, problems []*Problem) error {
	if problems == nil {
		problems = []*Problem{}
	}
	data, err := json.MarshalIndent(problems, "", "    ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// SaveReport writes the report file, creating the directory if needed.
func SaveReport(path string, problems []*Problem) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := WriteReport(f, problems); err != nil {
		return err
	}
	glog.Infof("wrote report %s (%d problems)", path, len(problems))
	return nil
}

// LoadReport reads a report file back into problem envelopes. Evidence
// keys come back in the flattened form they were written in.
func LoadReport(path string) ([]map[string]interface{}, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, err
	}
	return out, nil
}
