/*
Copyright 2024 The cfshare Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ystemsrx/openclaw-cfshare/lib/manager"
)

// writeResult prints v to stdout as JSON, pretty-printed unless
// compact is set.
func writeResult(v interface{}, compact bool) error {
	enc := json.NewEncoder(os.Stdout)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// writeError prints a human-readable diagnostic to stderr and a JSON
// error body to stdout.
func writeError(err error, compact bool) {
	fmt.Fprintln(os.Stderr, err.Error())
	body := map[string]interface{}{
		"error": string(manager.KindOf(err)),
		"message": err.Error(),
	}
	_ = writeResult(body, compact)
}
