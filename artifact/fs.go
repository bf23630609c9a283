package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/soliplex/ingester/model"
)

// FSStore stores artifacts as plain files under Dir, laid out as
// <Dir>/<storage-root>/<hash[0:2]>/<hash>/<kind>. This is the default
// backend for local/dev use.
type FSStore struct {
	Dir string
}

// NewFSStore creates an FSStore rooted at dir. The directory is created
// lazily on first write.
func NewFSStore(dir string) *FSStore {
	return &FSStore{Dir: dir}
}

func (f *FSStore) path(ref model.ArtifactRef) string {
	return filepath.Join(f.Dir, ref.StorageRoot, shard(ref.Hash), ref.Hash, string(ref.Kind))
}

// shard returns the two-character prefix used to bucket hashes into
// subdirectories, avoiding a single directory with one entry per
// artifact hash.
func shard(hash string) string {
	if len(hash) < 2 {
		return hash
	}
	return hash[:2]
}

// Put implements Store.
func (f *FSStore) Put(_ context.Context, ref model.ArtifactRef, data []byte) error {
	p := f.path(ref)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("artifact: mkdir for %s: %w", p, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("artifact: write %s: %w", p, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("artifact: rename into place %s: %w", p, err)
	}
	return nil
}

// Get implements Store.
func (f *FSStore) Get(_ context.Context, ref model.ArtifactRef) ([]byte, error) {
	data, err := os.ReadFile(f.path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifact: read %s: %w", f.path(ref), err)
	}
	return data, nil
}

// Exists implements Store.
func (f *FSStore) Exists(_ context.Context, ref model.ArtifactRef) (bool, error) {
	_, err := os.Stat(f.path(ref))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("artifact: stat %s: %w", f.path(ref), err)
}

// Delete implements Store.
func (f *FSStore) Delete(_ context.Context, ref model.ArtifactRef) error {
	err := os.Remove(f.path(ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifact: delete %s: %w", f.path(ref), err)
	}
	return nil
}

// DeleteAllForHash implements Store. It walks every storage root and
// shard directory under Dir looking for a hash directory, removing it
// (and every kind file inside) wholesale.
func (f *FSStore) DeleteAllForHash(_ context.Context, hash string) (int, error) {
	count := 0
	err := filepath.WalkDir(f.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() || d.Name() != hash {
			return nil
		}
		entries, readErr := os.ReadDir(path)
		if readErr != nil {
			return readErr
		}
		count += len(entries)
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return rmErr
		}
		return filepath.SkipDir
	})
	if err != nil {
		return count, fmt.Errorf("artifact: delete all for hash %s: %w", hash, err)
	}
	return count, nil
}

// Validate implements Validator by checking which of want are present.
func (f *FSStore) Validate(ctx context.Context, want []model.ArtifactRef) (missing, extra []model.ArtifactRef, err error) {
	present := make(map[string]bool)
	for _, ref := range want {
		ok, existsErr := f.Exists(ctx, ref)
		if existsErr != nil {
			return nil, nil, existsErr
		}
		present[refKey(ref)] = ok
		if !ok {
			missing = append(missing, ref)
		}
	}

	walkErr := filepath.WalkDir(f.Dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(f.Dir, path)
		if relErr != nil {
			return relErr
		}
		parts := splitPath(rel)
		if len(parts) != 4 {
			return nil
		}
		ref := model.ArtifactRef{StorageRoot: parts[0], Hash: parts[2], Kind: model.ArtifactType(parts[3])}
		if !present[refKey(ref)] {
			extra = append(extra, ref)
		}
		return nil
	})
	if walkErr != nil {
		return missing, extra, fmt.Errorf("artifact: validate: %w", walkErr)
	}
	return missing, extra, nil
}

func refKey(ref model.ArtifactRef) string {
	return ref.StorageRoot + "/" + string(ref.Kind) + "/" + ref.Hash
}

func splitPath(rel string) []string {
	return strings.Split(filepath.ToSlash(rel), "/")
}
