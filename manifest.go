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
	"encoding/xml"
	"io/ioutil"
)

// AndroidNS is the Android manifest attribute namespace.
const AndroidNS = "http://schemas.android.com/apk/res/android"

// Manifest is the subset of AndroidManifest.xml the analyzer and
// plugins read.
type Manifest struct {
	XMLName     xml.Name            `xml:"manifest"`
	Package     string              `xml:"package,attr"`
	VersionCode string              `xml:"http://schemas.android.com/apk/res/android versionCode,attr"`
	VersionName string              `xml:"http://schemas.android.com/apk/res/android versionName,attr"`
	Application ManifestApplication `xml:"application"`
	Permissions []ManifestUsesPerm  `xml:"uses-permission"`
}

type ManifestApplication struct {
	Debuggable  string `xml:"http://schemas.android.com/apk/res/android debuggable,attr"`
	AllowBackup string `xml:"http://schemas.android.com/apk/res/android allowBackup,attr"`
}

type ManifestUsesPerm struct {
	Name string `xml:"http://schemas.android.com/apk/res/android name,attr"`
}

// ParseManifest reads and decodes an AndroidManifest.xml file.
func ParseManifest(path string) (*Manifest, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := xml.Unmarshal(content, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
