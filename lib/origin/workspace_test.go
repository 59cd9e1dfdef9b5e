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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildWorkspaceCopiesAndDedupes(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "note.txt"), []byte("hi"), 0o600))

	otherDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(otherDir, "note.txt"), []byte("bye"), 0o600))

	workspace := t.TempDir()
	copied, rejected, err := BuildWorkspace(workspace, []string{
		filepath.Join(src, "note.txt"),
		filepath.Join(otherDir, "note.txt"),
	}, nil, nil)
	require.NoError(t, err)
	require.Empty(t, rejected)
	require.Len(t, copied, 2)

	require.FileExists(t, filepath.Join(workspace, "note.txt"))
	require.FileExists(t, filepath.Join(workspace, "note_1.txt"))
}

func TestBuildWorkspaceRejectsOutsideAllowedRoots(t *testing.T) {
	allowedRoot := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "f.txt"), []byte("x"), 0o600))

	workspace := t.TempDir()
	copied, rejected, err := BuildWorkspace(workspace, []string{filepath.Join(outside, "f.txt")}, nil, []string{allowedRoot})
	require.NoError(t, err)
	require.Empty(t, copied)
	require.Len(t, rejected, 1)
	require.Equal(t, "outside_allowed_roots", rejected[0].Reason)
}

func TestBuildManifestSortedAndHashed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("B"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("A"), 0o600))

	entries, err := BuildManifest(dir, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a.txt", entries[0].Name)
	require.Equal(t, "b.txt", entries[1].Name)
	require.NotEmpty(t, entries[0].Sha256)
}
