package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM nginx\n"), 0o644))

	before, err := hashDirectory(dir)
	require.NoError(t, err)
	again, err := hashDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, before, again)

	require.NoError(t, os.Rename(filepath.Join(dir, "Dockerfile"), filepath.Join(dir, "Containerfile")))
	renamed, err := hashDirectory(dir)
	require.NoError(t, err)
	assert.NotEqual(t, before, renamed)
}

func TestHashBuildIncludesDockerfileOutsideContext(t *testing.T) {
	root := t.TempDir()
	contextDir := filepath.Join(root, "context")
	require.NoError(t, os.Mkdir(contextDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(contextDir, "main.go"), []byte("package main\n"), 0o644))
	dockerfile := filepath.Join(root, "Dockerfile")
	require.NoError(t, os.WriteFile(dockerfile, []byte("FROM golang:1.24\n"), 0o644))

	before, err := hashBuild(contextDir, dockerfile)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(dockerfile, []byte("FROM golang:1.25\n"), 0o644))
	after, err := hashBuild(contextDir, dockerfile)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	_, err = hashBuild(contextDir, filepath.Join(root, "missing"))
	assert.Error(t, err)
}
