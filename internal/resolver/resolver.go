package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jontes-page/avatar-service/internal/config"
	pkglog "github.com/jontes-page/avatar-service/pkg/log"
)

// State classifies the outcome of a name resolution.
type State int

const (
	// StateFound means the name has an avatar and URL is usable.
	StateFound State = iota
	// StateNoAvatar means the lookup succeeded but no avatar is configured.
	StateNoAvatar
	// StateFailed means the lookup itself failed. Callers treat this the
	// same as NoAvatar for the response, but the two are logged apart.
	StateFailed
)

// Resolution is the result of resolving a name to a source image URL.
// Keeping the three outcomes explicit avoids the ambiguity of an empty
// string meaning both "no avatar" and "lookup broke".
type Resolution struct {
	State State
	// URL is the fetchable source image URL. When the resolved avatar was
	// an IPFS address this is already the rewritten gateway URL.
	URL string
	// IPFSPath is the original /ipfs/... path when the rewrite fired,
	// surfaced to clients via the x-ipfs-path header. Empty otherwise.
	IPFSPath string
	// Err carries the lookup failure for StateFailed, for logging only.
	Err error
}

// NameResolver turns a name into a fetchable source image URL.
type NameResolver interface {
	Resolve(ctx context.Context, name string) Resolution
}

var ipfsPathRe = regexp.MustCompile(`/ipfs/(.*)`)

// EnstateResolver resolves ENS names through an enstate instance.
type EnstateResolver struct {
	baseURL string
	gateway string
	client  *http.Client
}

// New creates an EnstateResolver from resolver config.
func New(cfg config.ResolverConfig) *EnstateResolver {
	return &EnstateResolver{
		baseURL: strings.TrimSuffix(cfg.EnstateURL, "/"),
		gateway: strings.TrimSuffix(cfg.IPFSGateway, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// enstateProfile is the subset of the enstate name response we read.
type enstateProfile struct {
	Avatar string `json:"avatar"`
}

// Resolve looks the name up and applies the IPFS gateway rewrite. Lookup
// failures never become request errors; they degrade to a failed Resolution
// and the caller serves the placeholder.
func (r *EnstateResolver) Resolve(ctx context.Context, name string) Resolution {
	l := pkglog.Ctx(ctx)
	start := time.Now()

	avatar, err := r.lookup(ctx, name)
	l.Debug().
		Str(pkglog.FieldName, name).
		Float64(pkglog.FieldLatency, float64(time.Since(start).Milliseconds())).
		Msg("enstate lookup")

	if err != nil {
		l.Warn().Err(err).Str(pkglog.FieldName, name).Msg("name resolution failed")
		return Resolution{State: StateFailed, Err: err}
	}
	if avatar == "" {
		return Resolution{State: StateNoAvatar}
	}

	return r.rewrite(ctx, avatar)
}

func (r *EnstateResolver) lookup(ctx context.Context, name string) (string, error) {
	reqURL := fmt.Sprintf("%s/n/%s", r.baseURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build enstate request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("enstate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("enstate returned status %d", resp.StatusCode)
	}

	var profile enstateProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("decode enstate response: %w", err)
	}

	return profile.Avatar, nil
}

// rewrite maps an /ipfs/<cid> path onto the configured HTTP gateway so the
// fetch and the cache key both use a plain HTTP URL. Non-IPFS URLs pass
// through untouched.
func (r *EnstateResolver) rewrite(ctx context.Context, avatar string) Resolution {
	parsed, err := url.Parse(avatar)
	if err != nil {
		logger := pkglog.Ctx(ctx)
		logger.Warn().Err(err).Str(pkglog.FieldSourceURL, avatar).Msg("unparseable avatar url")
		return Resolution{State: StateFailed, Err: fmt.Errorf("parse avatar url: %w", err)}
	}

	if ipfsPathRe.MatchString(parsed.Path) {
		return Resolution{
			State:    StateFound,
			URL:      r.gateway + parsed.Path,
			IPFSPath: parsed.Path,
		}
	}

	return Resolution{State: StateFound, URL: avatar}
}
