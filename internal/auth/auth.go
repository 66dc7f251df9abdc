package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"comicforge/internal/config"
	"comicforge/internal/project"
)

const defaultCacheTTL = 5 * time.Minute

// User is an authenticated caller.
type User struct {
	ID string
	// ProjectID is set when the caller authenticated with a project access
	// token; such a caller may only touch that project.
	ProjectID string
}

// Scoped reports whether the user is limited to one project.
func (u *User) Scoped() bool {
	return u != nil && u.ProjectID != ""
}

// CanAccess reports whether the user's credentials reach projectID. Ownership
// is checked separately.
func (u *User) CanAccess(projectID string) bool {
	if u == nil {
		return false
	}
	return u.ProjectID == "" || u.ProjectID == projectID
}

// IdentityProvider resolves the caller of a request. It returns nil, nil when
// the request carries no valid credentials.
type IdentityProvider interface {
	AuthenticatedUser(r *http.Request) (*User, error)
}

// ProjectLookup finds a project by its access token.
type ProjectLookup interface {
	FindByAccessToken(ctx context.Context, token string) (*project.Project, error)
}

// TokenProvider authenticates bearer tokens against the configured operator
// tokens and the project access tokens in the store.
type TokenProvider struct {
	tokens   map[string]string
	projects ProjectLookup
	cache    *cache.Cache
}

// NewTokenProvider builds a provider from the [auth] config section.
func NewTokenProvider(cfg *config.Config, projects ProjectLookup) *TokenProvider {
	ttl := defaultCacheTTL
	tokens := map[string]string{}
	if cfg != nil {
		if cfg.Auth.CacheTTLSeconds > 0 {
			ttl = time.Duration(cfg.Auth.CacheTTLSeconds) * time.Second
		}
		for token, user := range cfg.Auth.Tokens {
			token, user = strings.TrimSpace(token), strings.TrimSpace(user)
			if token != "" && user != "" {
				tokens[token] = user
			}
		}
	}
	return &TokenProvider{
		tokens:   tokens,
		projects: projects,
		cache:    cache.New(ttl, 2*ttl),
	}
}

// AuthenticatedUser implements IdentityProvider.
func (p *TokenProvider) AuthenticatedUser(r *http.Request) (*User, error) {
	token := BearerToken(r)
	if token == "" {
		return nil, nil
	}
	for configured, userID := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(configured), []byte(token)) == 1 {
			return &User{ID: userID}, nil
		}
	}
	if cached, ok := p.cache.Get(token); ok {
		if user, ok := cached.(*User); ok {
			clone := *user
			return &clone, nil
		}
	}
	if p.projects == nil {
		return nil, nil
	}
	proj, err := p.projects.FindByAccessToken(r.Context(), token)
	if err != nil {
		return nil, fmt.Errorf("resolve access token: %w", err)
	}
	if proj == nil {
		return nil, nil
	}
	user := &User{ID: proj.OwnerID, ProjectID: proj.ID}
	p.cache.SetDefault(token, user)
	clone := *user
	return &clone, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ProjectReader loads a project by id.
type ProjectReader interface {
	GetProject(ctx context.Context, id string) (*project.Project, error)
}

// StoreOwnership checks ownership against the project store.
type StoreOwnership struct {
	Projects ProjectReader
}

// VerifyProjectOwnership reports whether userID owns projectID. A missing
// project is not owned by anyone.
func (o StoreOwnership) VerifyProjectOwnership(ctx context.Context, userID, projectID string) (bool, error) {
	if userID == "" || projectID == "" {
		return false, nil
	}
	proj, err := o.Projects.GetProject(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("verify ownership: %w", err)
	}
	return proj != nil && proj.OwnerID == userID, nil
}
