// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package command

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
)

type VersionCmd struct {
	Detail bool   `help:"Include detail about the commit, build date, and Go version."`
	Format string `help:"Output format.  Possible values: ${enum}." enum:"text, json" default:"text"`
}

type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
	Go      string `json:"go,omitempty"`
}

func (c *VersionCmd) Run(info *VersionInfo) error {
	output := *info
	if c.Detail {
		output.Go = runtime.Version()
	} else {
		output.Commit = ""
		output.Date = ""
	}

	if c.Format == "json" {
		return json.NewEncoder(os.Stdout).Encode(output)
	}
	if c.Detail {
		fmt.Printf("%s (%s %s, %s)\n", output.Version, output.Commit, output.Date, output.Go)
		return nil
	}
	fmt.Println(output.Version)
	return nil
}
