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
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
	"github.com/mitchellh/mapstructure"

	"github.com/ystemsrx/openclaw-cfshare/lib/manager"
)

// paramsDTO is the wire shape of --params/--params-file, flattened
// across every tool this adapter dispatches.
type paramsDTO struct {
	Port  int                    `mapstructure:"port"`
	Paths []string               `mapstructure:"paths"`
	Opts  map[string]interface{} `mapstructure:"opts"`

	ID          string     `mapstructure:"id"`
	IDs         []string   `mapstructure:"ids"`
	All         bool       `mapstructure:"all"`
	Filter      *filterDTO `mapstructure:"filter"`
	Fields      []string   `mapstructure:"fields"`
	ProbePublic bool       `mapstructure:"probe_public"`

	Lines        int    `mapstructure:"lines"`
	SinceSeconds int    `mapstructure:"since_seconds"`
	Component    string `mapstructure:"component"`

	Patch map[string]interface{} `mapstructure:"patch"`

	Event      string `mapstructure:"event"`
	Type       string `mapstructure:"type"`
	Since      string `mapstructure:"since"`
	Until      string `mapstructure:"until"`
	Limit      int    `mapstructure:"limit"`
	OutputPath string `mapstructure:"output_path"`
}

// filterDTO is the {filter} selector shape accepted by get.
type filterDTO struct {
	Status string `mapstructure:"status"`
	Type   string `mapstructure:"type"`
}

// optsDTO is the shape of the nested "opts" object accepted by
// expose_port and expose_files.
type optsDTO struct {
	Access         string   `mapstructure:"access"`
	TTLSeconds     int      `mapstructure:"ttl_seconds"`
	AllowlistPaths []string `mapstructure:"allowlist_paths"`
	MaxDownloads   int      `mapstructure:"max_downloads"`
	ProtectOrigin  *bool    `mapstructure:"protect_origin"`
	Mode           string   `mapstructure:"mode"`
	Presentation   string   `mapstructure:"presentation"`
}

// loadParams resolves --params/--params-file into a raw JSON object.
func loadParams(inline, path string) (map[string]interface{}, error) {
	var data []byte
	switch {
	case path != "":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, trace.Wrap(err, "reading --params-file")
		}
		data = raw
	case inline != "":
		data = []byte(inline)
	default:
		return map[string]interface{}{}, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, trace.Wrap(err, "parsing params JSON")
	}
	return raw, nil
}

func decodeParams(raw map[string]interface{}) (paramsDTO, error) {
	var dto paramsDTO
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &dto,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return dto, trace.Wrap(err)
	}
	if err := dec.Decode(raw); err != nil {
		return dto, trace.Wrap(err, "decoding params")
	}
	return dto, nil
}

func decodeOpts(raw map[string]interface{}) (optsDTO, error) {
	var dto optsDTO
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &dto,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return dto, trace.Wrap(err)
	}
	if err := dec.Decode(raw); err != nil {
		return dto, trace.Wrap(err, "decoding opts")
	}
	return dto, nil
}

// resolveInputPaths makes each of paths absolute relative to
// workspaceDir (the --workspace-dir context hint), leaving already
// absolute paths untouched.
func resolveInputPaths(paths []string, workspaceDir string) []string {
	if workspaceDir == "" {
		return paths
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		if filepath.IsAbs(p) {
			out[i] = p
			continue
		}
		out[i] = filepath.Join(workspaceDir, p)
	}
	return out
}

func buildExposePortRequest(dto paramsDTO, opts optsDTO) manager.ExposePortRequest {
	return manager.ExposePortRequest{
		Port:           dto.Port,
		TTLSeconds:     opts.TTLSeconds,
		Access:         opts.Access,
		AllowlistPaths: opts.AllowlistPaths,
		MaxDownloads:   opts.MaxDownloads,
		ProtectOrigin:  opts.ProtectOrigin,
	}
}

func buildExposeFilesRequest(dto paramsDTO, opts optsDTO, workspaceDir string) manager.ExposeFilesRequest {
	return manager.ExposeFilesRequest{
		Inputs:         resolveInputPaths(dto.Paths, workspaceDir),
		TTLSeconds:     opts.TTLSeconds,
		Access:         opts.Access,
		Zip:            opts.Mode == "zip",
		Presentation:   opts.Presentation,
		MaxDownloads:   opts.MaxDownloads,
		AllowlistPaths: opts.AllowlistPaths,
		ProtectOrigin:  opts.ProtectOrigin,
	}
}
