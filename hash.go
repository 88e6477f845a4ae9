package main

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// hashDirectory hashes every file's relative path and content, so renaming a
// file changes the result as much as editing it.
func hashDirectory(dirPath string) (string, error) {
	hash := sha256.New()
	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dirPath, path)
		if err != nil {
			return err
		}
		hash.Write([]byte(filepath.ToSlash(rel)))
		hash.Write([]byte{0})
		return copyFile(hash, path)
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// hashBuild identifies a docker build by its context and its Dockerfile,
// which may sit outside the context.
func hashBuild(contextDir, dockerfile string) (string, error) {
	dir, err := hashDirectory(contextDir)
	if err != nil {
		return "", err
	}
	hash := sha256.New()
	hash.Write([]byte(dir))
	hash.Write([]byte{0})
	if err := copyFile(hash, dockerfile); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func copyFile(w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}
