// Package services – GenerationService
//
// This file implements the quota-gated generation pipeline. Every operation
// runs the same sequence of stages:
//
//	admitted -> gathering_source -> transforming -> committed
//	                 \________________\____________-> rejected
//
// Admission reserves one unit of the user's quota for the service. The unit
// is consumed only after the artifact has been produced and persisted; on
// any failure, including a timeout, the reservation is released and the
// user's quota is untouched. Workspaces used by structure requests are
// released on every path by workspace.Manager.With.
//
// Observability: each public method is OpenTelemetry-instrumented, stage
// transitions are span events and debug logs, and outcomes are counted in
// Prometheus.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/devlift/internal/ai"
	"github.com/tbourn/devlift/internal/domain"
	"github.com/tbourn/devlift/internal/quota"
	"github.com/tbourn/devlift/internal/repo"
	"github.com/tbourn/devlift/internal/source"
	"github.com/tbourn/devlift/internal/workspace"
)

const (
	stageAdmitted     = "admitted"
	stageGathering    = "gathering_source"
	stageTransforming = "transforming"
	stageValidating   = "validating"
	stagePersisting   = "persisting"
	stageCommitted    = "committed"
	stageRejected     = "rejected"
)

// DefaultReadmeFiles is the allow-list of root files sent to the model when
// generating a README.
var DefaultReadmeFiles = []string{
	"README.md",
	"package.json",
	"index.js",
	"server.js",
	"main.py",
	"app.js",
	"requirements.txt",
	"go.mod",
	"main.go",
	"Cargo.toml",
	"pyproject.toml",
}

// Workspaces provides scoped repository checkouts.
type Workspaces interface {
	With(ctx context.Context, owner, name string, fn func(context.Context, *workspace.Workspace) error) error
}

// TreeBuilder converts a checkout into a tree.
type TreeBuilder interface {
	Build(ctx context.Context, root string) (*workspace.Tree, error)
}

// RepoSource reads repository metadata and files.
type RepoSource interface {
	FetchFiles(ctx context.Context, owner, repo string, names []string) ([]source.File, error)
	ListRepos(ctx context.Context) ([]source.Repo, error)
}

// BlobReader reads stored document bytes.
type BlobReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// ResumeInput carries the form fields of a resume request.
type ResumeInput struct {
	Name     string   `json:"name"      validate:"required,max=120"`
	Email    string   `json:"email"     validate:"omitempty,email,max=254"`
	Title    string   `json:"title"     validate:"required,max=120"`
	Skills   []string `json:"skills"    validate:"required,min=1,max=50,dive,required,max=60"`
	TopRepos int      `json:"top_repos" validate:"min=0,max=20"`
}

// ArtifactRequest is the service-agnostic form of a generation request.
// Target is "owner/repo" for readme and structure and a document ID for
// linkedin. Resume carries the form for resume requests.
type ArtifactRequest struct {
	Service domain.Service
	Target  string
	Resume  *ResumeInput
}

// Result is a successful generation with the quota snapshot taken right
// after the unit was consumed.
type Result struct {
	Artifact  *domain.Artifact `json:"artifact"`
	Tree      *workspace.Tree  `json:"tree,omitempty"`
	LinkedIn  *LinkedInProfile `json:"linkedin,omitempty"`
	Remaining int              `json:"remaining"`
	ResetAt   time.Time        `json:"reset_at"`
}

// GenerationService runs quota-gated artifact generation.
type GenerationService struct {
	DB         *gorm.DB
	Quota      *quota.Tracker
	Workspaces Workspaces
	Trees      TreeBuilder
	Repos      RepoSource
	Blobs      BlobReader
	Extractor  source.Extractor
	AI         ai.Transformer

	// Timeout bounds a whole generation. Zero disables it.
	Timeout time.Duration
	// ArtifactTTL is how long generated artifacts are kept.
	ArtifactTTL time.Duration
	// IdempotencyTTL is how long an Idempotency-Key can be replayed.
	IdempotencyTTL time.Duration

	ReadmeFiles     []string
	MaxFileRunes    int
	MaxProfileRunes int
	ResumeTopRepos  int

	// Temperatures per service.
	ReadmeTemperature   float32
	ResumeTemperature   float32
	LinkedInTemperature float32
	LinkedInMaxTokens   int

	// Now returns the current time. Tests may replace it.
	Now func() time.Time
}

// NewGenerationService constructs a GenerationService with defaults for
// every tunable.
func NewGenerationService(db *gorm.DB, tracker *quota.Tracker) *GenerationService {
	return &GenerationService{
		DB:                  db,
		Quota:               tracker,
		Timeout:             2 * time.Minute,
		ArtifactTTL:         7 * 24 * time.Hour,
		IdempotencyTTL:      24 * time.Hour,
		ReadmeFiles:         DefaultReadmeFiles,
		MaxFileRunes:        8000,
		MaxProfileRunes:     20000,
		ResumeTopRepos:      5,
		ReadmeTemperature:   0.6,
		ResumeTemperature:   0.7,
		LinkedInTemperature: 0.7,
		LinkedInMaxTokens:   3500,
		Now:                 func() time.Time { return time.Now().UTC() },
	}
}

// repoSegmentRE matches a GitHub owner or repository name.
var repoSegmentRE = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,100}$`)

func validRepo(owner, repo string) bool {
	for _, s := range []string{owner, repo} {
		if s == "." || s == ".." || !repoSegmentRE.MatchString(s) {
			return false
		}
	}
	return true
}

// ParseRepoTarget splits "owner/repo".
func ParseRepoTarget(target string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(target), "/")
	if !ok || !validRepo(owner, repo) {
		return "", "", fmt.Errorf("%w: repository must be owner/name", ErrInvalidTarget)
	}
	return owner, repo, nil
}

// GenerateReadme writes a README for owner/repo from its allow-listed root
// files.
func (s *GenerationService) GenerateReadme(ctx context.Context, userID, owner, repoName string) (*Result, error) {
	if !validRepo(owner, repoName) {
		return nil, fmt.Errorf("%w: repository must be owner/name", ErrInvalidTarget)
	}
	target := owner + "/" + repoName
	return s.run(ctx, userID, domain.ServiceReadme, target, domain.FormatMarkdown, func(ctx context.Context, _ *Result) (string, error) {
		s.stage(ctx, stageGathering)
		files, err := s.Repos.FetchFiles(ctx, owner, repoName, s.readmeFiles())
		if err != nil {
			return "", sourceFailure(stageGathering, err)
		}

		s.stage(ctx, stageTransforming)
		out, err := s.AI.Transform(ctx, ai.Request{
			System:      readmeSystemPrompt,
			Prompt:      readmePrompt(owner, repoName, files, s.MaxFileRunes),
			Format:      ai.FormatText,
			Temperature: s.ReadmeTemperature,
		})
		if err != nil {
			return "", transformFailure(err)
		}
		return out, nil
	})
}

// GenerateStructure checks out owner/repo and returns its directory tree.
// The checkout is removed before this method returns.
func (s *GenerationService) GenerateStructure(ctx context.Context, userID, owner, repoName string) (*Result, error) {
	if !validRepo(owner, repoName) {
		return nil, fmt.Errorf("%w: repository must be owner/name", ErrInvalidTarget)
	}
	target := owner + "/" + repoName
	return s.run(ctx, userID, domain.ServiceStructure, target, domain.FormatJSON, func(ctx context.Context, res *Result) (string, error) {
		s.stage(ctx, stageGathering)
		var tree *workspace.Tree
		err := s.Workspaces.With(ctx, owner, repoName, func(ctx context.Context, ws *workspace.Workspace) error {
			t, err := s.Trees.Build(ctx, ws.Path)
			if err != nil {
				return err
			}
			t.Root.Name = repoName
			tree = t
			return nil
		})
		if err != nil {
			return "", sourceFailure(stageGathering, err)
		}
		if len(tree.Warnings) > 0 {
			zerolog.Ctx(ctx).Warn().
				Int("skipped", len(tree.Warnings)).
				Bool("truncated", tree.Truncated).
				Msg("tree built with skipped entries")
		}

		b, err := json.Marshal(tree)
		if err != nil {
			return "", err
		}
		res.Tree = tree
		return string(b), nil
	})
}

// GenerateLinkedIn rewrites the user's stored profile document.
func (s *GenerationService) GenerateLinkedIn(ctx context.Context, userID, documentID string) (*Result, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, fmt.Errorf("%w: document id required", ErrInvalidTarget)
	}
	doc, err := repo.GetDocument(ctx, s.DB, documentID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}

	return s.run(ctx, userID, domain.ServiceLinkedIn, doc.ID, domain.FormatJSON, func(ctx context.Context, res *Result) (string, error) {
		s.stage(ctx, stageGathering)
		pdf, err := s.Blobs.Read(ctx, doc.BlobKey)
		if err != nil {
			return "", sourceFailure(stageGathering, err)
		}
		text, err := s.Extractor.Extract(ctx, pdf)
		if err != nil {
			return "", sourceFailure(stageGathering, err)
		}
		if strings.TrimSpace(text) == "" {
			return "", sourceFailure(stageGathering, errors.New("no extractable text in document"))
		}

		s.stage(ctx, stageTransforming)
		out, err := s.AI.Transform(ctx, ai.Request{
			System:      linkedinSystemPrompt,
			Prompt:      linkedinPrompt(clipRunes(text, s.MaxProfileRunes)),
			Format:      ai.FormatJSON,
			MaxTokens:   s.LinkedInMaxTokens,
			Temperature: s.LinkedInTemperature,
		})
		if err != nil {
			return "", transformFailure(err)
		}

		s.stage(ctx, stageValidating)
		profile, err := parseLinkedInProfile(out)
		if err != nil {
			return "", malformedResponse(err)
		}
		b, err := json.Marshal(profile)
		if err != nil {
			return "", err
		}
		res.LinkedIn = profile
		return string(b), nil
	})
}

// GenerateResume writes a plain-text resume from in and the user's most
// starred repositories.
func (s *GenerationService) GenerateResume(ctx context.Context, userID string, in ResumeInput) (*Result, error) {
	in = normalizeResume(in)
	if err := validate.Struct(&in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	top := in.TopRepos
	if top == 0 {
		top = s.ResumeTopRepos
	}

	return s.run(ctx, userID, domain.ServiceResume, in.Name, domain.FormatText, func(ctx context.Context, _ *Result) (string, error) {
		s.stage(ctx, stageGathering)
		repos, err := s.Repos.ListRepos(ctx)
		if err != nil {
			return "", sourceFailure(stageGathering, err)
		}
		picked := make([]source.Repo, 0, top)
		for _, r := range repos {
			if len(picked) == top {
				break
			}
			if !r.Fork {
				picked = append(picked, r)
			}
		}

		s.stage(ctx, stageTransforming)
		out, err := s.AI.Transform(ctx, ai.Request{
			Prompt:      resumePrompt(in, picked),
			Format:      ai.FormatText,
			Temperature: s.ResumeTemperature,
		})
		if err != nil {
			return "", transformFailure(err)
		}
		return out, nil
	})
}

// RequestArtifact dispatches a service-agnostic request.
func (s *GenerationService) RequestArtifact(ctx context.Context, userID string, req ArtifactRequest) (*Result, error) {
	switch req.Service {
	case domain.ServiceReadme, domain.ServiceStructure:
		owner, name, err := ParseRepoTarget(req.Target)
		if err != nil {
			return nil, err
		}
		if req.Service == domain.ServiceReadme {
			return s.GenerateReadme(ctx, userID, owner, name)
		}
		return s.GenerateStructure(ctx, userID, owner, name)
	case domain.ServiceLinkedIn:
		return s.GenerateLinkedIn(ctx, userID, req.Target)
	case domain.ServiceResume:
		if req.Resume == nil {
			return nil, fmt.Errorf("%w: resume fields required", ErrInvalidTarget)
		}
		return s.GenerateResume(ctx, userID, *req.Resume)
	default:
		return nil, fmt.Errorf("%w: unknown service %q", ErrInvalidTarget, req.Service)
	}
}

// QuotaStatus reports the user's remaining quota for svc.
func (s *GenerationService) QuotaStatus(ctx context.Context, userID string, svc domain.Service) (quota.Status, error) {
	return s.Quota.Status(ctx, userID, svc)
}

// Claim reserves an idempotency key for one request. When the key was
// already answered, prev is the stored artifact and no claim is taken. When
// another request holding the key is still running, it returns
// ErrRequestInFlight. Claims never touch quota.
func (s *GenerationService) Claim(ctx context.Context, userID string, svc domain.Service, key string) (claimID string, prev *domain.Artifact, err error) {
	prev, found, err := s.lookupKey(ctx, userID, svc, key)
	if err != nil || found {
		return "", prev, err
	}
	rec, err := repo.CreateIdempotency(ctx, s.DB, userID, string(svc), key, "", 0, s.claimTTL())
	if errors.Is(err, repo.ErrDuplicate) {
		// A concurrent request claimed the key first.
		prev, _, err = s.lookupKey(ctx, userID, svc, key)
		return "", prev, err
	}
	if err != nil {
		return "", nil, err
	}
	return rec.ID, nil, nil
}

// Settle finishes a claim. A non-empty artifactID becomes the replayable
// result for IdempotencyTTL; an empty one releases the key so the client can
// retry. An empty claimID is a no-op.
func (s *GenerationService) Settle(ctx context.Context, claimID, artifactID string, status int) error {
	if claimID == "" {
		return nil
	}
	if artifactID == "" {
		return repo.DeleteIdempotency(ctx, s.DB, claimID)
	}
	return repo.CompleteIdempotency(ctx, s.DB, claimID, artifactID, status, s.Now().Add(s.IdempotencyTTL))
}

// lookupKey resolves a live binding. found is false when the key is free, or
// when its artifact has since expired and the request may run again.
func (s *GenerationService) lookupKey(ctx context.Context, userID string, svc domain.Service, key string) (*domain.Artifact, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, string(svc), key, s.Now())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if rec.Pending() {
		return nil, true, ErrRequestInFlight
	}
	a, err := repo.GetArtifact(ctx, s.DB, rec.ArtifactID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// claimTTL bounds how long a crashed request can hold its key.
func (s *GenerationService) claimTTL() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout + time.Minute
	}
	return 10 * time.Minute
}

// producer gathers source material and transforms it into artifact content.
// It may attach structured output to res.
type producer func(ctx context.Context, res *Result) (string, error)

// run is the single pipeline every operation goes through.
func (s *GenerationService) run(ctx context.Context, userID string, svc domain.Service, target string, format domain.ArtifactFormat, produce producer) (res *Result, err error) {
	ctx, span := otel.Tracer("services/GenerationService").Start(ctx, "Generate",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("generation.service", string(svc)),
			attribute.String("generation.target", target),
		),
	)
	defer span.End()

	l := requestLogger(ctx).With().
		Str("service", string(svc)).
		Str("target", target).
		Logger()
	ctx = l.WithContext(ctx)

	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			var ge *GenerationError
			if errors.As(err, &ge) {
				ge.Service = svc
				outcome = string(ge.Kind)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			s.stage(ctx, stageRejected)
			l.Info().Err(err).Str("outcome", outcome).Msg("generation rejected")
		}
		generations.WithLabelValues(string(svc), outcome).Inc()
		generationLatency.WithLabelValues(string(svc)).Observe(time.Since(start).Seconds())
	}()

	dec, ticket, err := s.Quota.Admit(ctx, userID, svc)
	if err != nil {
		return nil, fmt.Errorf("quota admission: %w", err)
	}
	if !dec.Allowed {
		return nil, &GenerationError{Kind: KindQuotaExceeded, Stage: stageAdmitted, ResetAt: dec.ResetAt}
	}
	defer ticket.Release()
	s.stage(ctx, stageAdmitted)

	pctx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	res = &Result{}
	content, err := produce(pctx, res)
	if err != nil {
		var ge *GenerationError
		if !errors.As(err, &ge) {
			err = &GenerationError{Kind: KindUpstreamFailure, Stage: stageTransforming, Err: err}
		}
		return nil, err
	}

	s.stage(ctx, stagePersisting)
	now := s.Now()
	art := &domain.Artifact{
		UserID:    userID,
		Service:   svc,
		Target:    target,
		Format:    format,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ArtifactTTL),
	}
	if err := repo.CreateArtifact(ctx, s.DB, art); err != nil {
		return nil, fmt.Errorf("persist artifact: %w", err)
	}

	// The artifact exists; count it even if the client has gone away.
	st, err := ticket.Commit(context.WithoutCancel(ctx))
	if err != nil {
		l.Error().Err(err).Str("artifact_id", art.ID).Msg("quota commit failed")
		st = quota.Status{Remaining: max(0, dec.Remaining-1), ResetAt: dec.ResetAt}
	}
	s.stage(ctx, stageCommitted)

	res.Artifact = art
	res.Remaining = st.Remaining
	res.ResetAt = st.ResetAt
	l.Info().Str("artifact_id", art.ID).Int("remaining", st.Remaining).Msg("generation committed")
	return res, nil
}

func (s *GenerationService) stage(ctx context.Context, name string) {
	trace.SpanFromContext(ctx).AddEvent(name)
	zerolog.Ctx(ctx).Debug().Str("stage", name).Msg("generation stage")
}

func (s *GenerationService) readmeFiles() []string {
	if len(s.ReadmeFiles) > 0 {
		return s.ReadmeFiles
	}
	return DefaultReadmeFiles
}

// requestLogger returns the logger carried by ctx, or the global logger.
func requestLogger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// normalizeResume trims fields, title-cases the name, and drops blank and
// case-insensitively duplicated skills.
func normalizeResume(in ResumeInput) ResumeInput {
	nameCase := cases.Title(language.Und, cases.NoLower)
	skillFold := cases.Fold()

	in.Name = nameCase.String(strings.Join(strings.Fields(in.Name), " "))
	in.Email = strings.TrimSpace(in.Email)
	in.Title = strings.Join(strings.Fields(in.Title), " ")

	seen := make(map[string]bool, len(in.Skills))
	skills := make([]string, 0, len(in.Skills))
	for _, sk := range in.Skills {
		sk = strings.TrimSpace(sk)
		k := skillFold.String(sk)
		if sk == "" || seen[k] {
			continue
		}
		seen[k] = true
		skills = append(skills, sk)
	}
	in.Skills = skills
	return in
}
