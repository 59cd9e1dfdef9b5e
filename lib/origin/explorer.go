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

package origin

import (
	"bytes"
	"html/template"

	humanize "github.com/dustin/go-humanize"
)

// ExplorerManifest is the input to a Renderer: everything a listing
// view needs and nothing more, so the renderer stays a pure function.
type ExplorerManifest struct {
	SessionID string
	Entries   []ManifestEntry
	ZipMode   bool
}

// Renderer turns a manifest into an HTML page. The core ships exactly
// one concrete renderer and commits to nothing else about its layout.
type Renderer func(ExplorerManifest) ([]byte, error)

// DefaultRenderer is a minimal listing page: a table
// of name/size/modified, each name linking to its relative_url.
func DefaultRenderer(m ExplorerManifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := explorerTemplate.Execute(&buf, explorerView{
		SessionID: m.SessionID,
		ZipMode:   m.ZipMode,
		Rows:      renderRows(m.Entries),
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type explorerRow struct {
	Name     string
	URL      string
	Size     string
	Modified string
}

type explorerView struct {
	SessionID string
	ZipMode   bool
	Rows      []explorerRow
}

func renderRows(entries []ManifestEntry) []explorerRow {
	rows := make([]explorerRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, explorerRow{
			Name:     e.Name,
			URL:      e.RelativeURL,
			Size:     humanize.Bytes(uint64(e.Size)),
			Modified: humanize.Time(e.ModifiedAt),
		})
	}
	return rows
}

var explorerTemplate = template.Must(template.New("explorer").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>cfshare: {{.SessionID}}</title></head>
<body>
<h1>{{.SessionID}}</h1>
{{if .ZipMode}}<p><a href="/download.zip">download.zip</a></p>{{end}}
<table>
<thead><tr><th>Name</th><th>Size</th><th>Modified</th></tr></thead>
<tbody>
{{range .Rows}}<tr><td><a href="/{{.URL}}">{{.Name}}</a></td><td>{{.Size}}</td><td>{{.Modified}}</td></tr>
{{end}}</tbody>
</table>
</body>
</html>
`))
