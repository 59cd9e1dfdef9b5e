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
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
)

// bundleName is the synthetic download exposed in zip mode.
const bundleName = "_cfshare_bundle.zip"

// BuildZipBundle archives every regular file under workspaceDir (other
// than the bundle itself) into workspaceDir/_cfshare_bundle.zip, each
// entry named by its workspace-relative POSIX path.
func BuildZipBundle(workspaceDir string) (ManifestEntry, error) {
	bundlePath := filepath.Join(workspaceDir, bundleName)

	f, err := os.OpenFile(bundlePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return ManifestEntry{}, trace.Wrap(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	walkErr := filepath.Walk(workspaceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return trace.Wrap(err)
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(workspaceDir, path)
		if err != nil {
			return trace.Wrap(err)
		}
		posixRel := filepath.ToSlash(rel)
		if posixRel == bundleName {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return trace.Wrap(err)
		}
		header.Name = posixRel
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return trace.Wrap(err)
		}
		src, err := os.Open(path)
		if err != nil {
			return trace.Wrap(err)
		}
		defer src.Close()

		if _, err := io.Copy(w, src); err != nil {
			return trace.Wrap(err)
		}
		return nil
	})
	if closeErr := zw.Close(); walkErr == nil {
		walkErr = closeErr
	}
	if walkErr != nil {
		return ManifestEntry{}, trace.Wrap(walkErr)
	}

	info, err := os.Stat(bundlePath)
	if err != nil {
		return ManifestEntry{}, trace.Wrap(err)
	}
	sum, err := newHashCache(1).hashFile(bundlePath, info)
	if err != nil {
		return ManifestEntry{}, trace.Wrap(err)
	}
	return ManifestEntry{
		Name:        "download.zip",
		Size:        info.Size(),
		Sha256:      sum,
		RelativeURL: "download.zip",
		ModifiedAt:  info.ModTime(),
	}, nil
}
