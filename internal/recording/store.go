package recording

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists finalized artifacts.
type Store interface {
	Save(ctx context.Context, art *Artifact) error
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, art *Artifact) error

func (f StoreFunc) Save(ctx context.Context, art *Artifact) error { return f(ctx, art) }

// Discard drops every artifact.
var Discard Store = StoreFunc(func(context.Context, *Artifact) error { return nil })

// DirStore writes bundles below Root as <callId>/<sessionId>.zip.
type DirStore struct {
	Root string
}

func (d DirStore) Save(ctx context.Context, art *Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(d.Root, filepath.FromSlash(art.ObjectKey()))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}

	tmp := path + ".part"
	if err := os.WriteFile(tmp, art.Data, 0o644); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	return os.Rename(tmp, path)
}

// MultiStore saves to every store in order and joins their errors. A failing
// store does not prevent the others from receiving the artifact.
type MultiStore []Store

func (m MultiStore) Save(ctx context.Context, art *Artifact) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, art); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
