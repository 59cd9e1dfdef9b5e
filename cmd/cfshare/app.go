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
	"context"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"

	"github.com/ystemsrx/openclaw-cfshare/lib/audit"
	"github.com/ystemsrx/openclaw-cfshare/lib/manager"
)

type cliFlags struct {
	tool string

	paramsInline string
	paramsFile   string

	configInline string
	configFile   string

	workspaceDir string

	keepAlive   bool
	noKeepAlive bool

	compact bool
}

// Run parses args and dispatches to the selected tool, returning the
// process exit code.
func Run(args []string) (int, error) {
	app := kingpin.New("cfshare", "Turn a local port or a set of files into a temporary public HTTPS endpoint.")

	var flags cliFlags
	app.Arg("tool", "Operation to run: expose_port, expose_files, list, get, stop, logs, update_policy, env_check, run_gc, audit_query, audit_export").
		Required().StringVar(&flags.tool)
	app.Flag("params", "JSON object of tool parameters").StringVar(&flags.paramsInline)
	app.Flag("params-file", "Path to a JSON file of tool parameters").StringVar(&flags.paramsFile)
	app.Flag("config", "JSON object overriding the process-wide policy config layer").StringVar(&flags.configInline)
	app.Flag("config-file", "Path to a JSON file overriding the process-wide policy config layer").StringVar(&flags.configFile)
	app.Flag("workspace-dir", "Base directory relative paths in expose_files are resolved against").StringVar(&flags.workspaceDir)
	app.Flag("keep-alive", "Keep an expose operation's tunnel running in the foreground until interrupted").Default("true").BoolVar(&flags.keepAlive)
	app.Flag("no-keep-alive", "Stop the session immediately after reporting its result").BoolVar(&flags.noKeepAlive)
	app.Flag("compact", "Emit compact (non-pretty-printed) JSON").BoolVar(&flags.compact)

	if _, err := app.Parse(args); err != nil {
		return 1, trace.Wrap(err)
	}
	if flags.noKeepAlive {
		flags.keepAlive = false
	}

	paramsRaw, err := loadParams(flags.paramsInline, flags.paramsFile)
	if err != nil {
		writeError(err, flags.compact)
		return 1, err
	}
	dto, err := decodeParams(paramsRaw)
	if err != nil {
		writeError(err, flags.compact)
		return 1, err
	}

	processConfig, err := loadProcessConfig(flags.configInline, flags.configFile)
	if err != nil {
		writeError(err, flags.compact)
		return 1, err
	}

	mgr, err := manager.New(manager.Config{ProcessConfig: processConfig})
	if err != nil {
		writeError(err, flags.compact)
		return 1, err
	}
	defer mgr.Close()

	ctx := context.Background()
	result, after, err := dispatch(ctx, mgr, flags, dto)
	if err != nil {
		writeError(err, flags.compact)
		return 1, err
	}
	if err := writeResult(result, flags.compact); err != nil {
		return 1, trace.Wrap(err)
	}
	// The keep-alive hold runs only after the result has reached
	// stdout, so a caller scripting the adapter sees the session info
	// while the tunnel is still up.
	if after != nil {
		after()
	}
	return 0, nil
}

func loadProcessConfig(inline, path string) (map[string]interface{}, error) {
	raw, err := loadParams(inline, path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func dispatch(ctx context.Context, mgr *manager.Manager, flags cliFlags, dto paramsDTO) (interface{}, func(), error) {
	switch flags.tool {
	case "expose_port":
		opts, err := decodeOpts(dto.Opts)
		if err != nil {
			return nil, nil, err
		}
		return runExposePort(ctx, mgr, buildExposePortRequest(dto, opts), flags.keepAlive)

	case "expose_files":
		opts, err := decodeOpts(dto.Opts)
		if err != nil {
			return nil, nil, err
		}
		return runExposeFiles(ctx, mgr, buildExposeFilesRequest(dto, opts, flags.workspaceDir), flags.keepAlive)

	case "list":
		return mgr.List(ctx), nil, nil

	case "get":
		var filter *manager.SessionFilter
		if dto.Filter != nil {
			filter = &manager.SessionFilter{Status: dto.Filter.Status, Type: dto.Filter.Type}
		}
		result, err := mgr.Get(ctx, manager.GetRequest{
			ID:          dto.ID,
			IDs:         dto.IDs,
			All:         dto.All,
			Filter:      filter,
			Fields:      dto.Fields,
			ProbePublic: dto.ProbePublic,
		})
		return result, nil, err

	case "stop":
		result := mgr.Stop(ctx, manager.StopRequest{ID: dto.ID, IDs: dto.IDs, All: dto.All})
		return result, nil, nil

	case "logs":
		logs, err := mgr.Logs(ctx, manager.LogsRequest{ID: dto.ID, IDs: dto.IDs, All: dto.All, Lines: dto.Lines, SinceSeconds: dto.SinceSeconds, Component: dto.Component})
		return logs, nil, err

	case "update_policy":
		if err := mgr.UpdatePolicy(ctx, dto.Patch); err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"updated": true}, nil, nil

	case "env_check":
		return mgr.EnvCheck(ctx), nil, nil

	case "run_gc":
		result, err := mgr.RunGC(ctx)
		return result, nil, err

	case "audit_query":
		events, err := mgr.AuditQuery(ctx, auditFilters(dto))
		return events, nil, err

	case "audit_export":
		path, count, err := mgr.AuditExport(ctx, auditFilters(dto), dto.OutputPath)
		if err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"output_path": path, "count": count}, nil, nil

	default:
		return nil, nil, manager.Errorf(manager.KindInvalidInput, "unrecognized tool: %v", flags.tool)
	}
}

func auditFilters(dto paramsDTO) audit.QueryFilters {
	return audit.QueryFilters{
		Event: dto.Event,
		ID:    dto.ID,
		Type:  dto.Type,
		Since: dto.Since,
		Until: dto.Until,
		Limit: dto.Limit,
	}
}
