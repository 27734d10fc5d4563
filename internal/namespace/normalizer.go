// Package namespace resolves user-supplied catalog paths into canonical names and
// makes sure the destination container exists.
package namespace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spachava753/geosync/internal/catalog"
)

// LegacyAssetRoot prefixes legacy user roots that have no explicit project.
const LegacyAssetRoot = "projects/earthengine-legacy/assets"

var (
	ErrNestedTooDeep    = errors.New("parent folder is nested too deep")
	ErrCreationDeclined = errors.New("folder creation declined")
	ErrRootMissing      = errors.New("root does not exist or is not accessible")
	ErrWrongType        = errors.New("path exists with a different asset type")
)

// RootError reports a destination whose root cannot be read.
type RootError struct {
	Root string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("root does not exist or is not accessible: %s: verify you have access to this project: %v", e.Root, e.Err)
}

func (e *RootError) Unwrap() error {
	return e.Err
}

// Normalizer rewrites paths against the caller's legacy roots and the live catalog.
type Normalizer struct {
	catalog  catalog.Catalog
	roots    []string
	prompter Prompter
}

// New creates a normalizer for a known set of legacy root ids.
func New(c catalog.Catalog, legacyRoots []string, p Prompter) *Normalizer {
	if p == nil {
		p = Decline{}
	}
	return &Normalizer{catalog: c, roots: legacyRoots, prompter: p}
}

// NewFromCatalog fetches the legacy roots first. Failing to list them is not fatal;
// normalization falls back to structural rules.
func NewFromCatalog(ctx context.Context, c catalog.Catalog, p Prompter) (*Normalizer, error) {
	roots, err := c.ListLegacyRoots(ctx)
	if err != nil {
		if errors.Is(err, catalog.ErrUnauthenticated) || ctx.Err() != nil {
			return nil, err
		}
		slog.Warn("could not list legacy roots", "error", err)
		roots = nil
	}
	return New(c, roots, p), nil
}

// lookup returns the asset at name, nil when it does not exist, and an error for
// anything else, permission denied included.
func (n *Normalizer) lookup(ctx context.Context, name string) (*catalog.Asset, error) {
	asset, err := n.catalog.GetAsset(ctx, name)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return asset, nil
}

// probe looks a path up in both slash forms, trying the bare "/assets" root form with a slash first.
func (n *Normalizer) probe(ctx context.Context, name string) (*catalog.Asset, error) {
	bare := strings.TrimSuffix(name, "/")
	forms := []string{bare, bare + "/"}
	if strings.HasSuffix(bare, "/assets") {
		forms = []string{bare + "/", bare}
	}
	for _, form := range forms {
		asset, err := n.lookup(ctx, form)
		if err != nil || asset != nil {
			return asset, err
		}
	}
	return nil, nil
}

// Normalize maps path to its canonical catalog name. Normalize(Normalize(p)) == Normalize(p).
func (n *Normalizer) Normalize(ctx context.Context, path string) (string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")

	asset, err := n.lookup(ctx, path)
	if err != nil {
		return "", fmt.Errorf("looking up %s: %w", path, err)
	}
	if asset != nil {
		return strings.TrimSuffix(asset.Name, "/"), nil
	}

	parts := strings.Split(path, "/")
	switch {
	case parts[0] == "users" && len(parts) >= 2:
		userRoot := "users/" + parts[1]
		for _, root := range n.roots {
			if root != userRoot && legacyCanonical(root) != legacyCanonical(userRoot) {
				continue
			}
			rootAsset, err := n.probe(ctx, root)
			if err != nil {
				return "", fmt.Errorf("looking up root %s: %w", root, err)
			}
			if rootAsset != nil {
				return strings.TrimSuffix(rootAsset.Name, "/") + strings.TrimPrefix(path, userRoot), nil
			}
		}
		return LegacyAssetRoot + "/" + path, nil

	case parts[0] == "projects" && len(parts) >= 2:
		if strings.Contains(path, "/assets/") || strings.HasSuffix(path, "/assets") {
			return path, nil
		}
		potential := "projects/" + parts[1]
		for _, root := range n.roots {
			if root != potential && !strings.HasPrefix(root, potential+"/") {
				continue
			}
			rootAsset, err := n.probe(ctx, root)
			if err != nil {
				return "", fmt.Errorf("looking up root %s: %w", root, err)
			}
			if rootAsset != nil {
				return strings.TrimSuffix(rootAsset.Name, "/") + strings.TrimPrefix(path, potential), nil
			}
		}
		rest := strings.Join(parts[2:], "/")
		if rest == "" {
			return potential + "/assets", nil
		}
		return potential + "/assets/" + rest, nil
	}

	return path, nil
}

func legacyCanonical(root string) string {
	if strings.HasPrefix(root, "projects/") {
		return root
	}
	return LegacyAssetRoot + "/" + root
}
