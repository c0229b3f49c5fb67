package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func fileJSON(name, body string) map[string]any {
	return map[string]any{
		"type":     "file",
		"name":     name,
		"path":     name,
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(body)),
	}
}

func newGitHubServer(t *testing.T, mux *http.ServeMux) *GitHub {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	g, err := NewGitHub(context.Background(), "", srv.URL)
	if err != nil {
		t.Fatalf("NewGitHub: %v", err)
	}
	g.Attempts = 2
	return g
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetchFiles_AllowListOrderAndAbsentFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/contents/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"type": "file", "name": "package.json", "path": "package.json"},
			{"type": "file", "name": "README.md", "path": "README.md"},
			{"type": "file", "name": "LICENSE", "path": "LICENSE"},
			{"type": "dir", "name": "src", "path": "src"},
		})
	})
	mux.HandleFunc("/repos/octo/hello/contents/README.md", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fileJSON("README.md", "# old readme"))
	})
	mux.HandleFunc("/repos/octo/hello/contents/package.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fileJSON("package.json", `{"name":"hello"}`))
	})
	g := newGitHubServer(t, mux)

	files, err := g.FetchFiles(context.Background(), "octo", "hello",
		[]string{"README.md", "package.json", "index.js", "go.mod", "src"})
	if err != nil {
		t.Fatalf("FetchFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %+v", files)
	}
	if files[0].Path != "README.md" || files[0].Content != "# old readme" {
		t.Fatalf("unexpected first file: %+v", files[0])
	}
	if files[1].Path != "package.json" || files[1].Content != `{"name":"hello"}` {
		t.Fatalf("unexpected second file: %+v", files[1])
	}
}

func TestFetchFiles_SkipsFilesNotReturnedInline(t *testing.T) {
	var bigFetched atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/big/contents/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"type": "file", "name": "README.md", "path": "README.md", "size": 3 << 20},
			{"type": "file", "name": "package.json", "path": "package.json", "size": 900 << 10},
			{"type": "file", "name": "go.mod", "path": "go.mod", "size": 20},
		})
	})
	mux.HandleFunc("/repos/octo/big/contents/README.md", func(w http.ResponseWriter, r *http.Request) {
		bigFetched.Store(true)
		writeJSON(w, fileJSON("README.md", "never read"))
	})
	mux.HandleFunc("/repos/octo/big/contents/package.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"type": "file", "name": "package.json", "path": "package.json", "encoding": "none", "content": ""})
	})
	mux.HandleFunc("/repos/octo/big/contents/go.mod", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fileJSON("go.mod", "module big"))
	})
	g := newGitHubServer(t, mux)

	files, err := g.FetchFiles(context.Background(), "octo", "big", []string{"README.md", "package.json", "go.mod"})
	if err != nil {
		t.Fatalf("FetchFiles: %v", err)
	}
	if len(files) != 1 || files[0].Path != "go.mod" || files[0].Content != "module big" {
		t.Fatalf("unexpected files: %+v", files)
	}
	if bigFetched.Load() {
		t.Fatalf("oversized file should not be downloaded")
	}
}

func TestFetchFiles_MissingRepository(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/nope/contents/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"message": "Not Found"})
	})
	g := newGitHubServer(t, mux)

	_, err := g.FetchFiles(context.Background(), "octo", "nope", []string{"README.md"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchFiles_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/flaky/contents/", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			writeJSON(w, map[string]string{"message": "bad gateway"})
			return
		}
		writeJSON(w, []map[string]any{})
	})
	g := newGitHubServer(t, mux)

	files, err := g.FetchFiles(context.Background(), "octo", "flaky", []string{"README.md"})
	if err != nil {
		t.Fatalf("FetchFiles: %v", err)
	}
	if len(files) != 0 || calls.Load() != 2 {
		t.Fatalf("files=%v calls=%d", files, calls.Load())
	}
}

func TestListRepos_SortedByStars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{
			{"name": "b", "full_name": "octo/b", "stargazers_count": 5},
			{"name": "a", "full_name": "octo/a", "stargazers_count": 5},
			{"name": "c", "full_name": "octo/c", "stargazers_count": 40, "language": "Go"},
		})
	})
	g := newGitHubServer(t, mux)

	repos, err := g.ListRepos(context.Background())
	if err != nil {
		t.Fatalf("ListRepos: %v", err)
	}
	if len(repos) != 3 || repos[0].Name != "c" || repos[1].Name != "a" || repos[2].Name != "b" {
		t.Fatalf("unexpected order: %+v", repos)
	}
	if repos[0].Language != "Go" || repos[0].Stars != 40 {
		t.Fatalf("fields not mapped: %+v", repos[0])
	}
}

func TestUser_Unauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]string{"message": "Bad credentials"})
	})
	g := newGitHubServer(t, mux)

	if _, err := g.User(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestUser_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"login": "octo", "name": "Octo Cat", "public_repos": 8})
	})
	g := newGitHubServer(t, mux)

	u, err := g.User(context.Background())
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if u.Login != "octo" || u.Name != "Octo Cat" || u.PublicRepos != 8 {
		t.Fatalf("unexpected user: %+v", u)
	}
}
