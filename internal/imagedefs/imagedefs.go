// Package imagedefs reads and writes imagedefinitions.json, the file a build
// leaves in its output artifact to tell the ECS deploy action which image each
// container should run.
package imagedefs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// FileName is the only path the deploy action reads from a build artifact.
const FileName = "imagedefinitions.json"

var (
	ErrNotFound          = errors.New("image definitions file not found")
	ErrMalformed         = errors.New("malformed image definitions")
	ErrContainerNotFound = errors.New("container not found in image definitions")
)

// Definition maps one container name to an image URI.
type Definition struct {
	Name     string `json:"name"`
	ImageURI string `json:"imageUri"`
}

// Definitions is the decoded contents of imagedefinitions.json.
type Definitions []Definition

// Parse decodes and validates the file contents.
func Parse(data []byte) (Definitions, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var defs Definitions
	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return defs, nil
}

// Validate requires at least one entry and a unique name and an image for each.
func (d Definitions) Validate() error {
	if len(d) == 0 {
		return fmt.Errorf("%w: no containers listed", ErrMalformed)
	}
	seen := map[string]bool{}
	for i, def := range d {
		if strings.TrimSpace(def.Name) == "" {
			return fmt.Errorf("%w: entry %d has no name", ErrMalformed, i)
		}
		if strings.TrimSpace(def.ImageURI) == "" {
			return fmt.Errorf("%w: container %q has no imageUri", ErrMalformed, def.Name)
		}
		if seen[def.Name] {
			return fmt.Errorf("%w: container %q listed twice", ErrMalformed, def.Name)
		}
		seen[def.Name] = true
	}
	return nil
}

// Image returns the image URI for the named container.
func (d Definitions) Image(container string) (string, error) {
	for _, def := range d {
		if def.Name == container {
			return def.ImageURI, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrContainerNotFound, container)
}

// Marshal encodes the definitions the way CodeBuild buildspecs usually print them.
func (d Definitions) Marshal() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

// Read locates the file at p inside an artifact bundle and parses it.
func Read(fs billy.Filesystem, p string) (Definitions, error) {
	f, err := fs.Open(path.Clean(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return Parse(data)
}

// Write stores the definitions at p inside an artifact bundle.
func Write(fs billy.Filesystem, p string, defs Definitions) error {
	data, err := defs.Marshal()
	if err != nil {
		return err
	}
	f, err := fs.Create(path.Clean(p))
	if err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", p, err)
	}
	return f.Close()
}
