package archive

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"

	"github.com/ipfs/boxo/blockservice"
	"github.com/ipfs/boxo/exchange/offline"
	"github.com/ipfs/boxo/ipld/merkledag"
	ufsio "github.com/ipfs/boxo/ipld/unixfs/io"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	format "github.com/ipfs/go-ipld-format"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/storacha/go-ucanto/core/car"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/ipld/block"
)

// ExportCAR packs the envelopes named by index (path -> envelope CID) into a
// CAR whose root is a UnixFS directory mirroring the paths. Envelope bytes
// are included, so the CAR is self-contained.
func (a *Archive) ExportCAR(ctx context.Context, index map[string]string) ([]byte, string, error) {
	bs := blockstore.NewBlockstore(dssync.MutexWrap(datastore.NewMapDatastore()))
	dagService := merkledag.NewDAGService(blockservice.New(bs, offline.Exchange(bs)))

	tree, err := a.buildTree(ctx, index)
	if err != nil {
		return nil, "", err
	}
	rootNode, err := buildDirNode(ctx, dagService, tree)
	if err != nil {
		return nil, "", fmt.Errorf("build tree: %w", err)
	}

	nodes, err := collectBlocks(ctx, dagService, rootNode.Cid())
	if err != nil {
		return nil, "", fmt.Errorf("collect blocks: %w", err)
	}

	reader := car.Encode([]ipld.Link{cidlink.Link{Cid: rootNode.Cid()}}, toBlocks(nodes))
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("read CAR: %w", err)
	}
	return data, rootNode.Cid().String(), nil
}

func toBlocks(nodes []format.Node) iter.Seq2[ipld.Block, error] {
	return func(yield func(ipld.Block, error) bool) {
		for _, node := range nodes {
			if !yield(block.NewBlock(cidlink.Link{Cid: node.Cid()}, node.RawData()), nil) {
				return
			}
		}
	}
}

type dirEntry struct {
	content  []byte
	children map[string]*dirEntry
}

func (a *Archive) buildTree(ctx context.Context, index map[string]string) (*dirEntry, error) {
	paths := make([]string, 0, len(index))
	for p := range index {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	root := &dirEntry{children: make(map[string]*dirEntry)}
	for _, path := range paths {
		c, err := cid.Decode(index[path])
		if err != nil {
			return nil, fmt.Errorf("invalid CID for %s: %w", path, err)
		}
		data, err := a.Get(ctx, c)
		if err != nil {
			return nil, err
		}

		parts := strings.Split(path, "/")
		current := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := current.children[part]
			if !ok {
				next = &dirEntry{children: make(map[string]*dirEntry)}
				current.children[part] = next
			}
			current = next
		}
		current.children[parts[len(parts)-1]] = &dirEntry{content: data}
	}
	return root, nil
}

func buildDirNode(ctx context.Context, dagService format.DAGService, entry *dirEntry) (format.Node, error) {
	dir, err := ufsio.NewDirectory(dagService)
	if err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	names := make([]string, 0, len(entry.children))
	for name := range entry.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		child := entry.children[name]
		var node format.Node
		if child.children != nil {
			node, err = buildDirNode(ctx, dagService, child)
			if err != nil {
				return nil, fmt.Errorf("build subdir %s: %w", name, err)
			}
		} else {
			// Raw nodes hash to the same CIDv1 the archive assigned.
			node = merkledag.NewRawNode(child.content)
			if err := dagService.Add(ctx, node); err != nil {
				return nil, fmt.Errorf("add envelope %s: %w", name, err)
			}
		}
		if err := dir.AddChild(ctx, name, node); err != nil {
			return nil, fmt.Errorf("add child %s: %w", name, err)
		}
	}

	node, err := dir.GetNode()
	if err != nil {
		return nil, fmt.Errorf("get directory node: %w", err)
	}
	if err := dagService.Add(ctx, node); err != nil {
		return nil, fmt.Errorf("add directory: %w", err)
	}
	return node, nil
}

func collectBlocks(ctx context.Context, dagService format.DAGService, root cid.Cid) ([]format.Node, error) {
	var out []format.Node
	seen := make(map[cid.Cid]bool)

	var collect func(c cid.Cid) error
	collect = func(c cid.Cid) error {
		if seen[c] {
			return nil
		}
		seen[c] = true
		node, err := dagService.Get(ctx, c)
		if err != nil {
			return fmt.Errorf("load %s: %w", c, err)
		}
		out = append(out, node)
		for _, link := range node.Links() {
			if err := collect(link.Cid); err != nil {
				return err
			}
		}
		return nil
	}

	if err := collect(root); err != nil {
		return nil, err
	}
	return out, nil
}
