package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// FileStore keeps artifacts as JSON files in one directory, named by run
// so older models stay available for rollback.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the artifact to a temp file in the same directory and
// renames it into place. Readers never observe a partial artifact.
func (s *FileStore) Save(ctx context.Context, a *Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.ID = SchemaVersion

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}

	final := filepath.Join(s.dir, fmt.Sprintf("model-%s-%s.json",
		a.CreatedAt.UTC().Format("20060102T150405"), a.RunID))

	tmp, err := os.CreateTemp(s.dir, "model-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return final, nil
}

// Load reads an artifact and verifies its feature columns against the
// live feature schema. A mismatch is fatal; scoring with misaligned
// columns would silently produce garbage.
func (s *FileStore) Load(ctx context.Context, path string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if a.ID != SchemaVersion {
		return nil, fmt.Errorf("%w: artifact schema v%d, this build reads v%d",
			domain.ErrIncompatibleModel, a.ID, SchemaVersion)
	}
	if err := CheckColumns(a.FeatureCols, features.Columns); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	return &a, nil
}

// Latest returns the newest artifact file by name ordering, which embeds
// the creation timestamp.
func (s *FileStore) Latest(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("list artifacts: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "model-") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(s.dir, names[len(names)-1]), nil
}

// CheckColumns compares a persisted column list against the live one.
func CheckColumns(persisted, live []string) error {
	if len(persisted) != len(live) {
		return fmt.Errorf("%w: %d persisted columns, %d live",
			domain.ErrIncompatibleModel, len(persisted), len(live))
	}
	for i := range persisted {
		if persisted[i] != live[i] {
			return fmt.Errorf("%w: column %d is %q, live schema has %q",
				domain.ErrIncompatibleModel, i, persisted[i], live[i])
		}
	}
	return nil
}
