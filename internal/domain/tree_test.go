package domain

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestTreeNode_MarshalJSON_ChildrenOnlyForDirectories(t *testing.T) {
	tree := TreeNode{
		Name: "repo",
		Kind: KindDirectory,
		Children: []TreeNode{
			{Name: "a.txt", Kind: KindFile},
			{Name: "empty", Kind: KindDirectory},
		},
	}
	b, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"name":"repo","kind":"directory","children":[{"name":"a.txt","kind":"file"},{"name":"empty","kind":"directory","children":[]}]}`
	if string(b) != want {
		t.Fatalf("json mismatch\n got: %s\nwant: %s", b, want)
	}

	var back TreeNode
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Name != "repo" || len(back.Children) != 2 || back.Children[0].Kind != KindFile {
		t.Fatalf("unexpected decode: %+v", back)
	}
	if !reflect.DeepEqual(back.Children[1].Children, []TreeNode{}) {
		t.Fatalf("empty directory should decode with empty children, got %#v", back.Children[1].Children)
	}
}

func TestTreeNode_Count(t *testing.T) {
	tree := TreeNode{Name: "r", Kind: KindDirectory, Children: []TreeNode{
		{Name: "a", Kind: KindFile},
		{Name: "d", Kind: KindDirectory, Children: []TreeNode{{Name: "b", Kind: KindFile}}},
	}}
	if got := tree.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}
}
