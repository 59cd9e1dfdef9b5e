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

package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a session identifier in the form
// "<prefix>_<base36-ms>_<6 hex>": a type prefix, the creation time in
// milliseconds base36-encoded, and six random hex characters drawn
// from a uuid so two sessions created in the same millisecond never
// collide.
func NewID(typ Type) string {
	prefix := "files"
	if typ == TypePort {
		prefix = "port"
	}
	ms := strconv.FormatInt(time.Now().UnixMilli(), 36)
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + ms + "_" + raw[:6]
}
