package awsdeploy

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"pulumi-ecs-pipeline/internal/imagedefs"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// S3Getter abstracts S3 GetObject operations for testing
type S3Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// FetchArtifact downloads a pipeline artifact, which CodePipeline stores as a
// zip archive, and unpacks it into memory.
func FetchArtifact(ctx context.Context, client S3Getter, bucket, key string) (billy.Filesystem, error) {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrArtifactNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return Unzip(body)
}

// Unzip extracts a zip archive into an in-memory filesystem. Entries that
// would escape the archive root are rejected.
func Unzip(data []byte) (billy.Filesystem, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact archive: %w", err)
	}

	fs := memfs.New()
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(f.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return nil, fmt.Errorf("artifact entry %q escapes the archive root", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		if err := util.WriteFile(fs, name, content, 0o644); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

// Drift compares one container's expected image with what is running.
type Drift struct {
	Container string `json:"container"`
	Expected  string `json:"expected"`
	Running   string `json:"running"`
}

func (d Drift) InSync() bool {
	return d.Expected == d.Running
}

// Compare reads the image definitions inside an artifact and reports, per
// container in name order, whether the running image matches.
func Compare(artifact billy.Filesystem, running map[string]string) ([]Drift, error) {
	defs, err := imagedefs.Read(artifact, imagedefs.FileName)
	if err != nil {
		return nil, err
	}
	drift := make([]Drift, 0, len(defs))
	for _, d := range defs {
		drift = append(drift, Drift{Container: d.Name, Expected: d.ImageURI, Running: running[d.Name]})
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].Container < drift[j].Container })
	return drift, nil
}
