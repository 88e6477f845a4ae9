package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"pulumi-ecs-pipeline/internal/imagedefs"
)

var (
	ErrRevisionNotFound = errors.New("revision not found")
	ErrUnknownContainer = errors.New("container is not defined by the service")
)

type memoryCommit struct {
	id    string
	files map[string]string
}

// MemoryRepository is an in-memory Repository keyed by owner, repo and branch.
type MemoryRepository struct {
	mu       sync.Mutex
	branches map[string][]memoryCommit
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{branches: map[string][]memoryCommit{}}
}

// Commit records a new head for the branch.
func (m *MemoryRepository) Commit(owner, repo, branch, id string, files map[string]string) {
	copied := make(map[string]string, len(files))
	for k, v := range files {
		copied[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := branchKey(owner, repo, branch)
	m.branches[key] = append(m.branches[key], memoryCommit{id: id, files: copied})
}

func (m *MemoryRepository) Fetch(ctx context.Context, ref SourceRef) (billy.Filesystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	commits := m.branches[branchKey(ref.Owner, ref.Repo, ref.Branch)]
	m.mu.Unlock()

	var found *memoryCommit
	for i := len(commits) - 1; i >= 0; i-- {
		if ref.Commit == "" || commits[i].id == ref.Commit {
			found = &commits[i]
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrRevisionNotFound, ref)
	}

	fs := memfs.New()
	names := make([]string, 0, len(found.files))
	for name := range found.files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := util.WriteFile(fs, name, []byte(found.files[name]), 0o644); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

func branchKey(owner, repo, branch string) string {
	return strings.ToLower(owner) + "/" + strings.ToLower(repo) + "@" + branch
}

// MemoryRegistry records pushed image references.
type MemoryRegistry struct {
	mu     sync.Mutex
	pushed []ImageRef
}

func (m *MemoryRegistry) Push(ctx context.Context, ref ImageRef, _ billy.Filesystem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed = append(m.pushed, ref)
	return nil
}

// Images returns pushed references in push order.
func (m *MemoryRegistry) Images() []ImageRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ImageRef(nil), m.pushed...)
}

// MemoryService is an in-memory ServiceUpdater. Each update registers a new
// revision; containers not present in the service are rejected.
type MemoryService struct {
	mu         sync.Mutex
	containers map[string]string
	revision   int
}

// NewMemoryService returns a service running the given container images.
func NewMemoryService(containers map[string]string) *MemoryService {
	running := make(map[string]string, len(containers))
	for k, v := range containers {
		running[k] = v
	}
	return &MemoryService{containers: running, revision: 1}
}

func (m *MemoryService) UpdateImages(ctx context.Context, defs imagedefs.Definitions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := defs.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range defs {
		if _, ok := m.containers[d.Name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownContainer, d.Name)
		}
	}
	for _, d := range defs {
		m.containers[d.Name] = d.ImageURI
	}
	m.revision++
	return nil
}

// Image returns the image the named container is running.
func (m *MemoryService) Image(container string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containers[container]
}

// Revision is the current task definition revision.
func (m *MemoryService) Revision() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision
}
