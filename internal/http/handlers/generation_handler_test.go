package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/quota"
	"github.com/tbourn/devlift/internal/services"
)

func TestGenerateReadme_CreatedWithQuotaSnapshot(t *testing.T) {
	var gotOwner, gotRepo, gotUser string
	gen := &stubGenSvc{readme: func(_ context.Context, uid, owner, repo string) (*services.Result, error) {
		gotUser, gotOwner, gotRepo = uid, owner, repo
		return okResult(domain.ServiceReadme), nil
	}}
	r := newTestRouter(New(gen, stubArtSvc{}, stubDocSvc{}, nil))

	w := do(t, r, http.MethodPost, "/generate/readme",
		map[string]string{"owner": " tbourn ", "repo": "devlift"},
		map[string]string{"X-User-ID": "alice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if gotUser != "alice" || gotOwner != "tbourn" || gotRepo != "devlift" {
		t.Fatalf("service got (%q,%q,%q)", gotUser, gotOwner, gotRepo)
	}
	var res services.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Remaining != 2 || res.Artifact == nil || res.Artifact.Content != "# hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if w.Header().Get("Location") != "/artifacts/"+res.Artifact.ID {
		t.Fatalf("Location=%q", w.Header().Get("Location"))
	}
	if len(gen.settled) != 0 {
		t.Fatalf("nothing should be settled without a key: %v", gen.settled)
	}
}

func TestGenerateReadme_BadBody(t *testing.T) {
	r := newTestRouter(New(&stubGenSvc{}, stubArtSvc{}, stubDocSvc{}, nil))
	w := do(t, r, http.MethodPost, "/generate/readme", map[string]string{"owner": "x"}, nil)
	if w.Code != http.StatusBadRequest || decodeErr(t, w).Code != ErrCodeBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestGenerate_QuotaExceeded_429WithReset(t *testing.T) {
	reset := time.Now().Add(2 * time.Hour).UTC()
	gen := &stubGenSvc{readme: func(context.Context, string, string, string) (*services.Result, error) {
		return nil, &services.GenerationError{Kind: services.KindQuotaExceeded, Service: domain.ServiceReadme, ResetAt: reset}
	}}
	r := newTestRouter(New(gen, stubArtSvc{}, stubDocSvc{}, nil))

	w := do(t, r, http.MethodPost, "/generate/readme", map[string]string{"owner": "o", "repo": "r"}, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", w.Code)
	}
	er := decodeErr(t, w)
	if er.Code != ErrCodeQuotaExceeded || er.ResetAt == nil || !er.ResetAt.Equal(reset) {
		t.Fatalf("unexpected body: %+v", er)
	}
	if secs, _ := strconv.Atoi(w.Header().Get("Retry-After")); secs < 7100 {
		t.Fatalf("Retry-After=%q", w.Header().Get("Retry-After"))
	}
}

func TestGenerate_FailureKindsMapTo502(t *testing.T) {
	cases := []struct {
		kind services.Kind
		code string
	}{
		{services.KindSourceUnavailable, ErrCodeSourceUnavailable},
		{services.KindUpstreamFailure, ErrCodeUpstreamFailure},
		{services.KindMalformedUpstreamResponse, ErrCodeMalformedUpstream},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			gen := &stubGenSvc{structure: func(context.Context, string, string, string) (*services.Result, error) {
				return nil, &services.GenerationError{Kind: tc.kind, Service: domain.ServiceStructure, Stage: "x", Err: errors.New("boom")}
			}}
			r := newTestRouter(New(gen, stubArtSvc{}, stubDocSvc{}, nil))
			w := do(t, r, http.MethodPost, "/generate/structure", map[string]string{"owner": "o", "repo": "r"}, nil)
			if w.Code != http.StatusBadGateway || decodeErr(t, w).Code != tc.code {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGenerate_InvalidTargetAndMissingDocument(t *testing.T) {
	gen := &stubGenSvc{
		readme: func(context.Context, string, string, string) (*services.Result, error) {
			return nil, fmt.Errorf("%w: bad owner", services.ErrInvalidTarget)
		},
		linkedin: func(context.Context, string, string) (*services.Result, error) {
			return nil, services.ErrDocumentNotFound
		},
		resume: func(context.Context, string, services.ResumeInput) (*services.Result, error) {
			return nil, errors.New("db down")
		},
	}
	r := newTestRouter(New(gen, stubArtSvc{}, stubDocSvc{}, nil))

	w := do(t, r, http.MethodPost, "/generate/readme", map[string]string{"owner": "o", "repo": "r"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid target status=%d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/generate/linkedin", map[string]string{"document_id": "141add05-4415-4938-b5a1-17e0d3171aff"}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing doc status=%d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/generate/linkedin", map[string]string{"document_id": "nope"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("non-uuid doc status=%d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/generate/resume", map[string]any{"name": "A", "title": "B", "skills": []string{"go"}}, nil)
	if w.Code != http.StatusInternalServerError || decodeErr(t, w).Code != ErrCodeGenerationFailed {
		t.Fatalf("unexpected status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestGenerate_IdempotencyKey_RecordsThenReplays(t *testing.T) {
	calls := 0
	var stored *domain.Artifact
	gen := &stubGenSvc{}
	gen.readme = func(context.Context, string, string, string) (*services.Result, error) {
		calls++
		res := okResult(domain.ServiceReadme)
		stored = res.Artifact
		return res, nil
	}
	gen.claim = func(_ context.Context, uid string, svc domain.Service, key string) (string, *domain.Artifact, error) {
		if stored != nil && uid == "bob" && svc == domain.ServiceReadme && key == "k-1" {
			return "", stored, nil
		}
		return "c-1", nil, nil
	}
	gen.status = func(context.Context, string, domain.Service) (quota.Status, error) {
		return quota.Status{Remaining: 9}, nil
	}
	r := newTestRouter(New(gen, stubArtSvc{}, stubDocSvc{}, nil))
	hdr := map[string]string{"X-User-ID": "bob", "Idempotency-Key": "k-1"}
	body := map[string]string{"owner": "o", "repo": "r"}

	w := do(t, r, http.MethodPost, "/generate/readme", body, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("first status=%d", w.Code)
	}
	if len(gen.settled) != 1 || gen.settled[0] != "c-1|"+stored.ID {
		t.Fatalf("settled=%v", gen.settled)
	}

	w = do(t, r, http.MethodPost, "/generate/readme", body, hdr)
	if w.Code != http.StatusOK || w.Header().Get(HeaderReplayed) != "true" {
		t.Fatalf("replay status=%d header=%q", w.Code, w.Header().Get(HeaderReplayed))
	}
	var res services.Result
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Artifact == nil || res.Artifact.ID != stored.ID || res.Remaining != 9 {
		t.Fatalf("unexpected replay: %+v", res)
	}
	if calls != 1 || len(gen.settled) != 1 {
		t.Fatalf("pipeline ran %d times, settled=%v", calls, gen.settled)
	}
}

func TestGenerate_IdempotencyKeyInFlight_409(t *testing.T) {
	ran := false
	gen := &stubGenSvc{
		claim: func(context.Context, string, domain.Service, string) (string, *domain.Artifact, error) {
			return "", nil, services.ErrRequestInFlight
		},
		readme: func(context.Context, string, string, string) (*services.Result, error) {
			ran = true
			return okResult(domain.ServiceReadme), nil
		},
	}
	r := newTestRouter(New(gen, stubArtSvc{}, stubDocSvc{}, nil))
	w := do(t, r, http.MethodPost, "/generate/readme", map[string]string{"owner": "o", "repo": "r"}, map[string]string{"Idempotency-Key": "k"})
	if w.Code != http.StatusConflict || decodeErr(t, w).Code != ErrCodeConflict || w.Header().Get("Retry-After") != "5" {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ran {
		t.Fatalf("pipeline must not run while the key is held")
	}
}

func TestGenerate_FailureReleasesClaim(t *testing.T) {
	gen := &stubGenSvc{readme: func(context.Context, string, string, string) (*services.Result, error) {
		return nil, &services.GenerationError{Kind: services.KindUpstreamFailure, Service: domain.ServiceReadme, Stage: "transforming"}
	}}
	r := newTestRouter(New(gen, stubArtSvc{}, stubDocSvc{}, nil))
	w := do(t, r, http.MethodPost, "/generate/readme", map[string]string{"owner": "o", "repo": "r"}, map[string]string{"Idempotency-Key": "k"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status=%d", w.Code)
	}
	if len(gen.settled) != 1 || gen.settled[0] != "claim-k|" {
		t.Fatalf("claim should be released, settled=%v", gen.settled)
	}
}

func TestGenerate_IdempotencyLookupError_500(t *testing.T) {
	gen := &stubGenSvc{claim: func(context.Context, string, domain.Service, string) (string, *domain.Artifact, error) {
		return "", nil, errors.New("db down")
	}}
	r := newTestRouter(New(gen, stubArtSvc{}, stubDocSvc{}, nil))
	w := do(t, r, http.MethodPost, "/generate/readme", map[string]string{"owner": "o", "repo": "r"}, map[string]string{"Idempotency-Key": "k"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestGenerate_SettleFailureStillCreated(t *testing.T) {
	gen := &stubGenSvc{settleErr: errors.New("disk full")}
	r := newTestRouter(New(gen, stubArtSvc{}, stubDocSvc{}, nil))
	w := do(t, r, http.MethodPost, "/generate/structure", map[string]string{"owner": "o", "repo": "r"}, map[string]string{"Idempotency-Key": "k"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestRequestArtifact_DispatchAndValidation(t *testing.T) {
	var got services.ArtifactRequest
	gen := &stubGenSvc{request: func(_ context.Context, _ string, req services.ArtifactRequest) (*services.Result, error) {
		got = req
		return okResult(req.Service), nil
	}}
	r := newTestRouter(New(gen, stubArtSvc{}, stubDocSvc{}, nil))

	w := do(t, r, http.MethodPost, "/artifacts/request", map[string]string{"service": "structure", "target": " o/r "}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if got.Service != domain.ServiceStructure || got.Target != "o/r" {
		t.Fatalf("got %+v", got)
	}

	w = do(t, r, http.MethodPost, "/artifacts/request", map[string]string{"service": "poem", "target": "x"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown service status=%d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/artifacts/request", map[string]any{
		"service": "resume",
		"resume":  map[string]any{"name": "A", "title": "B", "skills": []string{"go"}},
	}, nil)
	if w.Code != http.StatusCreated || got.Resume == nil || got.Resume.Name != "A" {
		t.Fatalf("resume dispatch status=%d got=%+v", w.Code, got)
	}
}

func TestGetQuota(t *testing.T) {
	reset := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	gen := &stubGenSvc{status: func(_ context.Context, uid string, svc domain.Service) (quota.Status, error) {
		if uid != "carol" || svc != domain.ServiceLinkedIn {
			return quota.Status{}, errors.New("wrong args")
		}
		return quota.Status{Remaining: 4, ResetAt: reset}, nil
	}}
	r := newTestRouter(New(gen, stubArtSvc{}, stubDocSvc{}, nil))

	w := do(t, r, http.MethodGet, "/quota/linkedin", nil, map[string]string{"X-User-ID": "carol"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var st quota.Status
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.Remaining != 4 || !st.ResetAt.Equal(reset) {
		t.Fatalf("unexpected: %+v", st)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("Cache-Control=%q", w.Header().Get("Cache-Control"))
	}

	if w := do(t, r, http.MethodGet, "/quota/poem", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown service status=%d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/quota/readme", nil, map[string]string{"X-User-ID": "carol"}); w.Code != http.StatusInternalServerError {
		t.Fatalf("status error status=%d", w.Code)
	}
}
