package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/disiqueira/gotree/v3"

	"fsgraph/internal/miner"
)

// renderTree draws the indexed resources below uri, depth levels deep
// (zero or less for unlimited). Non-empty directories carry a trailing
// slash.
func renderTree(ctx context.Context, reader *miner.Reader, uri string, depth int) (string, error) {
	root, err := reader.Find(ctx, uri)
	if err != nil {
		return "", err
	}
	if root == nil {
		return "", fmt.Errorf("%w: %s", miner.ErrUnknownResource, uri)
	}

	tree := gotree.New(uri)
	if err := addChildren(ctx, reader, tree, root.ID, depth); err != nil {
		return "", err
	}
	return tree.Print(), nil
}

func addChildren(ctx context.Context, reader *miner.Reader, node gotree.Tree, id string, depth int) error {
	children, err := reader.Children(ctx, id)
	if err != nil {
		return err
	}
	for _, child := range children {
		grandchildren, err := reader.Children(ctx, child.ID)
		if err != nil {
			return err
		}
		label := child.URI
		if p, err := miner.PathFromURI(child.URI); err == nil {
			label = filepath.Base(p)
		}
		if len(grandchildren) == 0 {
			node.Add(label)
			continue
		}
		sub := node.Add(label + "/")
		if depth == 1 {
			continue
		}
		if err := addChildren(ctx, reader, sub, child.ID, depth-1); err != nil {
			return err
		}
	}
	return nil
}
