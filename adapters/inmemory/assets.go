package inmemory

import (
	"context"
	"fmt"
	"strings"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/features"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/stream"
)

// AddNode adds a node to the asset model. Its parent must already exist.
func (a *Adapter) AddNode(node features.AssetModelNode) error {
	if strings.TrimSpace(node.ID) == "" {
		return errspkg.Validation("id", "node id is required")
	}
	if node.Name == "" {
		node.Name = node.ID
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.nodes[node.ID]; ok {
		return errspkg.Validation("id", fmt.Sprintf("node %q already exists", node.ID))
	}
	if node.Parent != "" {
		if _, ok := a.nodes[node.Parent]; !ok {
			return errspkg.Validation("parent", fmt.Sprintf("unknown parent %q", node.Parent))
		}
	}
	node.HasChildren = false
	a.nodes[node.ID] = node
	a.nodeOrder = append(a.nodeOrder, node.ID)
	return nil
}

// nodeLocked returns a node with HasChildren filled in.
func (a *Adapter) nodeLocked(id string) (features.AssetModelNode, bool) {
	n, ok := a.nodes[id]
	if !ok {
		return n, false
	}
	for _, other := range a.nodeOrder {
		if a.nodes[other].Parent == id {
			n.HasChildren = true
			break
		}
	}
	return n, true
}

func (a *Adapter) BrowseAssetModelNodes(_ context.Context, _ *adapter.CallContext, req features.BrowseAssetModelNodesRequest) (*stream.Sequence[features.AssetModelNode], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if req.ParentID != "" {
		if _, ok := a.nodes[req.ParentID]; !ok {
			return stream.FromSlice[features.AssetModelNode](), nil
		}
	}
	var children []features.AssetModelNode
	for _, id := range a.nodeOrder {
		if a.nodes[id].Parent != req.ParentID {
			continue
		}
		n, _ := a.nodeLocked(id)
		children = append(children, n)
	}
	return stream.FromSlice(page(children, req.PageSize, req.Page)...), nil
}

func (a *Adapter) GetAssetModelNodes(_ context.Context, _ *adapter.CallContext, req features.GetAssetModelNodesRequest) (*stream.Sequence[features.AssetModelNode], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []features.AssetModelNode
	for _, id := range req.Nodes {
		if n, ok := a.nodeLocked(id); ok {
			out = append(out, n)
		}
	}
	return stream.FromSlice(out...), nil
}

func (a *Adapter) FindAssetModelNodes(_ context.Context, _ *adapter.CallContext, req features.FindAssetModelNodesRequest) (*stream.Sequence[features.AssetModelNode], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	name, desc := wildcard(req.Name), wildcard(req.Description)
	a.mu.RLock()
	defer a.mu.RUnlock()
	var found []features.AssetModelNode
	for _, id := range a.nodeOrder {
		n, _ := a.nodeLocked(id)
		if matches(name, n.Name) && matches(desc, n.Description) {
			found = append(found, n)
		}
	}
	return stream.FromSlice(page(found, req.PageSize, req.Page)...), nil
}
