package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/http/middleware"
	"github.com/tbourn/devlift/internal/quota"
	"github.com/tbourn/devlift/internal/services"
	"github.com/tbourn/devlift/internal/source"
)

// ---------- flexible service stubs ----------

type stubGenSvc struct {
	readme    func(ctx context.Context, uid, owner, repo string) (*services.Result, error)
	structure func(ctx context.Context, uid, owner, repo string) (*services.Result, error)
	linkedin  func(ctx context.Context, uid, docID string) (*services.Result, error)
	resume    func(ctx context.Context, uid string, in services.ResumeInput) (*services.Result, error)
	request   func(ctx context.Context, uid string, req services.ArtifactRequest) (*services.Result, error)
	status    func(ctx context.Context, uid string, svc domain.Service) (quota.Status, error)
	claim     func(ctx context.Context, uid string, svc domain.Service, key string) (string, *domain.Artifact, error)

	settled   []string
	settleErr error
}

func okResult(svc domain.Service) *services.Result {
	return &services.Result{
		Artifact:  &domain.Artifact{ID: "11111111-1111-1111-1111-111111111111", Service: svc, Content: "# hi"},
		Remaining: 2,
		ResetAt:   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *stubGenSvc) GenerateReadme(ctx context.Context, uid, owner, repo string) (*services.Result, error) {
	if s.readme != nil {
		return s.readme(ctx, uid, owner, repo)
	}
	return okResult(domain.ServiceReadme), nil
}

func (s *stubGenSvc) GenerateStructure(ctx context.Context, uid, owner, repo string) (*services.Result, error) {
	if s.structure != nil {
		return s.structure(ctx, uid, owner, repo)
	}
	return okResult(domain.ServiceStructure), nil
}

func (s *stubGenSvc) GenerateLinkedIn(ctx context.Context, uid, docID string) (*services.Result, error) {
	if s.linkedin != nil {
		return s.linkedin(ctx, uid, docID)
	}
	return okResult(domain.ServiceLinkedIn), nil
}

func (s *stubGenSvc) GenerateResume(ctx context.Context, uid string, in services.ResumeInput) (*services.Result, error) {
	if s.resume != nil {
		return s.resume(ctx, uid, in)
	}
	return okResult(domain.ServiceResume), nil
}

func (s *stubGenSvc) RequestArtifact(ctx context.Context, uid string, req services.ArtifactRequest) (*services.Result, error) {
	if s.request != nil {
		return s.request(ctx, uid, req)
	}
	return okResult(req.Service), nil
}

func (s *stubGenSvc) QuotaStatus(ctx context.Context, uid string, svc domain.Service) (quota.Status, error) {
	if s.status != nil {
		return s.status(ctx, uid, svc)
	}
	return quota.Status{Remaining: 3}, nil
}

func (s *stubGenSvc) Claim(ctx context.Context, uid string, svc domain.Service, key string) (string, *domain.Artifact, error) {
	if s.claim != nil {
		return s.claim(ctx, uid, svc, key)
	}
	return "claim-" + key, nil, nil
}

// Settle records "claimID|artifactID"; requests without a key settle "".
func (s *stubGenSvc) Settle(_ context.Context, claimID, artifactID string, status int) error {
	if claimID != "" {
		s.settled = append(s.settled, claimID+"|"+artifactID)
	}
	return s.settleErr
}

type stubArtSvc struct {
	listPage func(ctx context.Context, uid string, svc domain.Service, page, pageSize int) ([]domain.Artifact, int64, error)
	get      func(ctx context.Context, uid, id string) (*domain.Artifact, error)
	stats    func(ctx context.Context, uid string, svc domain.Service) (int64, *time.Time, error)
}

func (s stubArtSvc) ListPage(ctx context.Context, uid string, svc domain.Service, page, pageSize int) ([]domain.Artifact, int64, error) {
	if s.listPage != nil {
		return s.listPage(ctx, uid, svc, page, pageSize)
	}
	return []domain.Artifact{}, 0, nil
}

func (s stubArtSvc) Get(ctx context.Context, uid, id string) (*domain.Artifact, error) {
	if s.get != nil {
		return s.get(ctx, uid, id)
	}
	return nil, services.ErrArtifactNotFound
}

func (s stubArtSvc) Stats(ctx context.Context, uid string, svc domain.Service) (int64, *time.Time, error) {
	if s.stats != nil {
		return s.stats(ctx, uid, svc)
	}
	return 0, nil, nil
}

type stubDocSvc struct {
	list   func(ctx context.Context, uid string) ([]domain.Document, error)
	remove func(ctx context.Context, uid, id string) error
}

func (s stubDocSvc) List(ctx context.Context, uid string) ([]domain.Document, error) {
	if s.list != nil {
		return s.list(ctx, uid)
	}
	return nil, nil
}

func (s stubDocSvc) Remove(ctx context.Context, uid, id string) error {
	if s.remove != nil {
		return s.remove(ctx, uid, id)
	}
	return nil
}

type stubGitHub struct {
	repos []source.Repo
	user  *source.User
	err   error
}

func (s stubGitHub) ListRepos(context.Context) ([]source.Repo, error) { return s.repos, s.err }
func (s stubGitHub) User(context.Context) (*source.User, error)       { return s.user, s.err }

// ---------- router + request helpers ----------

func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))

	r.POST("/generate/readme", h.GenerateReadme)
	r.POST("/generate/structure", h.GenerateStructure)
	r.POST("/generate/linkedin", h.GenerateLinkedIn)
	r.POST("/generate/resume", h.GenerateResume)
	r.POST("/artifacts/request", h.RequestArtifact)
	r.GET("/quota/:service", h.GetQuota)
	r.GET("/artifacts", h.ListArtifacts)
	r.GET("/artifacts/:id", h.GetArtifact)
	r.GET("/documents", h.ListDocuments)
	r.DELETE("/documents/:id", h.DeleteDocument)
	r.GET("/github/repos", h.ListRepos)
	r.GET("/github/user", h.GetGitHubUser)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}

// ---------- helpers-only tests ----------

func Test_userID_and_clampPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rc := gin.CreateTestContextOnly(httptest.NewRecorder(), gin.New())
	if got := userID(rc); got != "demo-user" {
		t.Fatalf("fallback userID = %q", got)
	}
	rc.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	rc.Request.Header.Set("X-User-ID", "  hdr  ")
	if got := userID(rc); got != "hdr" {
		t.Fatalf("header userID = %q", got)
	}
	rc.Set("userID", "u1")
	if got := userID(rc); got != "u1" {
		t.Fatalf("ctx userID = %q", got)
	}

	cases := []struct {
		q        string
		page, ps int
	}{
		{"", 1, 20},
		{"?page=0&page_size=0", 1, 1},
		{"?page=3&page_size=500", 3, 100},
		{"?page=x&page_size=y", 1, 20},
	}
	for _, tc := range cases {
		c := gin.CreateTestContextOnly(httptest.NewRecorder(), gin.New())
		c.Request = httptest.NewRequest(http.MethodGet, "/"+tc.q, nil)
		p, ps := clampPagination(c)
		if p != tc.page || ps != tc.ps {
			t.Fatalf("%q: got (%d,%d) want (%d,%d)", tc.q, p, ps, tc.page, tc.ps)
		}
	}
}

func Test_newPagination(t *testing.T) {
	p := newPagination(2, 10, 25)
	if p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("unexpected: %+v", p)
	}
	p = newPagination(1, 10, 0)
	if p.TotalPages != 0 || p.HasNext {
		t.Fatalf("unexpected: %+v", p)
	}
}
