package domain

import "encoding/json"

// NodeKind distinguishes files from directories in a TreeNode.
type NodeKind string

const (
	KindFile      NodeKind = "file"
	KindDirectory NodeKind = "directory"
)

// TreeNode mirrors one entry of a repository checkout. Children is only
// meaningful for directories and is ordered by name.
type TreeNode struct {
	Name     string
	Kind     NodeKind
	Children []TreeNode
}

// IsDir reports whether the node is a directory.
func (n TreeNode) IsDir() bool { return n.Kind == KindDirectory }

// MarshalJSON emits "children" for directories only (always an array, even
// when empty) and omits it for files.
func (n TreeNode) MarshalJSON() ([]byte, error) {
	if !n.IsDir() {
		return json.Marshal(struct {
			Name string   `json:"name"`
			Kind NodeKind `json:"kind"`
		}{n.Name, n.Kind})
	}
	children := n.Children
	if children == nil {
		children = []TreeNode{}
	}
	return json.Marshal(struct {
		Name     string     `json:"name"`
		Kind     NodeKind   `json:"kind"`
		Children []TreeNode `json:"children"`
	}{n.Name, n.Kind, children})
}

// UnmarshalJSON accepts the shape produced by MarshalJSON.
func (n *TreeNode) UnmarshalJSON(b []byte) error {
	var raw struct {
		Name     string     `json:"name"`
		Kind     NodeKind   `json:"kind"`
		Children []TreeNode `json:"children"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	n.Name, n.Kind, n.Children = raw.Name, raw.Kind, raw.Children
	return nil
}

// Count returns the number of nodes in the subtree rooted at n, n included.
func (n TreeNode) Count() int {
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}
