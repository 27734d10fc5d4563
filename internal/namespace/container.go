package namespace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spachava753/geosync/internal/catalog"
)

// EnsureContainer normalizes path and makes sure a container of type typ exists there.
// At most one missing parent level is created, and only after the prompter confirms.
func (n *Normalizer) EnsureContainer(ctx context.Context, path string, typ catalog.AssetType) (string, error) {
	dest, err := n.Normalize(ctx, path)
	if err != nil {
		return "", n.rootError(dest, path, err)
	}

	existing, err := n.probe(ctx, dest)
	if err != nil {
		return "", n.rootError(dest, path, err)
	}
	if existing != nil {
		if existing.Type != typ {
			return "", fmt.Errorf("%w: %s is a %s, expected %s", ErrWrongType, dest, existing.Type, typ)
		}
		return dest, nil
	}

	idx := strings.LastIndex(dest, "/")
	if idx <= 0 {
		return "", fmt.Errorf("destination %s has no parent", dest)
	}
	if err := n.ensureParent(ctx, dest[:idx]); err != nil {
		return "", err
	}

	slog.Info("creating container", "path", dest, "type", typ)
	if _, err := n.catalog.CreateAsset(ctx, dest, typ); err != nil {
		return "", fmt.Errorf("creating container %s: %w", dest, err)
	}
	return dest, nil
}

func (n *Normalizer) ensureParent(ctx context.Context, parent string) error {
	asset, err := n.probe(ctx, parent)
	if err != nil {
		return n.rootError(parent, parent, err)
	}
	if asset != nil {
		return nil
	}

	root := n.nearestRoot(parent)
	rootAsset, err := n.probe(ctx, root)
	if err != nil {
		return n.rootError(root, root, err)
	}
	if rootAsset == nil {
		return &RootError{Root: root, Err: ErrRootMissing}
	}

	rootName := strings.TrimSuffix(rootAsset.Name, "/")
	rel := n.relativeToRoot(parent, root, rootName)
	if rel == "" {
		return nil
	}

	// Count missing levels from parent upward until an existing ancestor is found.
	levels := strings.Split(rel, "/")
	missing := 1
	for i := len(levels) - 1; i > 0; i-- {
		ancestor := rootName + "/" + strings.Join(levels[:i], "/")
		a, err := n.lookup(ctx, ancestor)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", ancestor, err)
		}
		if a != nil {
			break
		}
		missing++
	}
	if missing > 1 {
		return fmt.Errorf("%w: %d levels missing below %s for %s; create the intermediate folders first",
			ErrNestedTooDeep, missing, rootName, parent)
	}

	ok, err := n.prompter.Confirm(ctx, fmt.Sprintf("Parent folder %s does not exist. Create it?", parent))
	if err != nil {
		return fmt.Errorf("confirming folder creation: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCreationDeclined, parent)
	}

	slog.Info("creating parent folder", "path", parent)
	if _, err := n.catalog.CreateAsset(ctx, parent, catalog.TypeFolder); err != nil {
		return fmt.Errorf("creating parent folder %s: %w", parent, err)
	}
	return nil
}

// nearestRoot picks the longest known legacy root containing path, falling back to
// the structural "<prefix>/assets/" root.
func (n *Normalizer) nearestRoot(path string) string {
	best := ""
	for _, r := range n.roots {
		for _, form := range []string{r, legacyCanonical(r)} {
			form = strings.TrimSuffix(form, "/")
			if (path == form || strings.HasPrefix(path, form+"/")) && len(form) > len(best) {
				best = form
			}
		}
	}
	if best != "" {
		return best
	}

	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "assets" {
			return strings.Join(parts[:i+1], "/") + "/"
		}
	}
	return parts[0]
}

func (n *Normalizer) relativeToRoot(path, root, rootName string) string {
	for _, prefix := range []string{rootName, strings.TrimSuffix(root, "/"), legacyCanonical(strings.TrimSuffix(root, "/"))} {
		if path == prefix {
			return ""
		}
		if rest, ok := strings.CutPrefix(path, prefix+"/"); ok {
			return rest
		}
	}
	return path
}

// rootError turns lookup failures that mean "cannot read this" into a *RootError
// naming the resolved root. Other errors pass through.
func (n *Normalizer) rootError(resolved, original string, err error) error {
	var rootErr *RootError
	if errors.As(err, &rootErr) {
		return err
	}
	if !errors.Is(err, catalog.ErrPermissionDenied) {
		return err
	}
	name := resolved
	if name == "" {
		name = original
	}
	return &RootError{Root: strings.TrimSuffix(n.nearestRoot(name), "/"), Err: err}
}
