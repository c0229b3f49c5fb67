// GitHub HTTP handlers.
//
//   - GET /github/repos   (repositories of the configured account, most starred first)
//   - GET /github/user    (the configured account)
package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/devlift/internal/source"
)

// ListReposResponse wraps the account's repositories.
type ListReposResponse struct {
	Repos []source.Repo `json:"repos"`
}

// ListRepos godoc
// @ID          listRepos
// @Summary     List GitHub repositories
// @Description Repositories visible to the configured token, sorted by stars descending.
// @Tags        GitHub
// @Produce     json
//
// @Success     200  {object} handlers.ListReposResponse
// @Failure     502  {object} handlers.ErrorResponse "GitHub unavailable"
// @Failure     503  {object} handlers.ErrorResponse "GitHub not configured"
// @Router      /github/repos [get]
func (h *Handlers) ListRepos(c *gin.Context) {
	if h.ghSvc == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeSourceUnavailable, "github not configured")
		return
	}
	repos, err := h.ghSvc.ListRepos(c.Request.Context())
	if err != nil {
		failSource(c, err)
		return
	}
	if repos == nil {
		repos = []source.Repo{}
	}
	sort.SliceStable(repos, func(i, j int) bool { return repos[i].Stars > repos[j].Stars })
	ok(c, http.StatusOK, ListReposResponse{Repos: repos})
}

// GetGitHubUser godoc
// @ID          getGitHubUser
// @Summary     GitHub account
// @Tags        GitHub
// @Produce     json
//
// @Success     200  {object} source.User
// @Failure     502  {object} handlers.ErrorResponse "GitHub unavailable"
// @Failure     503  {object} handlers.ErrorResponse "GitHub not configured"
// @Router      /github/user [get]
func (h *Handlers) GetGitHubUser(c *gin.Context) {
	if h.ghSvc == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeSourceUnavailable, "github not configured")
		return
	}
	u, err := h.ghSvc.User(c.Request.Context())
	if err != nil {
		failSource(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

func failSource(c *gin.Context, err error) {
	switch {
	case errors.Is(err, source.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "not found on github")
	case errors.Is(err, source.ErrUnauthorized):
		fail(c, http.StatusBadGateway, ErrCodeSourceUnavailable, "github rejected the configured token")
	default:
		fail(c, http.StatusBadGateway, ErrCodeSourceUnavailable, "github unavailable")
	}
}
