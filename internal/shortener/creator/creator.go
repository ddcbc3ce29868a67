// Package creator orchestrates the create-or-reuse pipeline:
// canonicalize, look up by canonical URL, derive a code, insert with
// salt-retry on collision.
package creator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/common/urlutil"
	"github.com/linkmesh/engine/internal/shortener/canonical"
	"github.com/linkmesh/engine/internal/shortener/code"
	"github.com/linkmesh/engine/internal/shortener/linkcache"
	"github.com/linkmesh/engine/internal/shortener/store"
	"github.com/linkmesh/engine/pkg/types"
)

// DefaultMaxSalt allows salts 0..9: ten derivation attempts before the
// create is declared unresolvable.
const DefaultMaxSalt = 9

// Params describes one create request.
type Params struct {
	TenantID  int64
	RawURL    string
	CreatorID int64

	// CustomCode bypasses derivation entirely when set.
	CustomCode string

	ExpiresAt *time.Time
	MaxClicks *int64
	Metadata  types.LinkMetadata
}

// Result carries the created or reused link. Reused distinguishes the
// idempotent path so the API layer can answer 200 instead of 201.
type Result struct {
	Link   *types.ShortLink
	Reused bool
}

// Coordinator implements create-or-reuse on top of the store, the code
// deriver and the link cache.
type Coordinator struct {
	store          store.Store
	deriver        *code.Deriver
	cache          *linkcache.Cache // nil disables cache population
	maxSalt        int
	defaultLinkTTL time.Duration // 0 means links never expire by default
	logger         *zap.Logger
}

// New creates a Coordinator. maxSalt < 0 falls back to DefaultMaxSalt.
func New(s store.Store, deriver *code.Deriver, cache *linkcache.Cache, maxSalt int, defaultLinkTTL time.Duration, logger *zap.Logger) *Coordinator {
	if maxSalt < 0 {
		maxSalt = DefaultMaxSalt
	}
	return &Coordinator{
		store:          s,
		deriver:        deriver,
		cache:          cache,
		maxSalt:        maxSalt,
		defaultLinkTTL: defaultLinkTTL,
		logger:         logger,
	}
}

// Create canonicalizes the URL and returns the existing live link for it,
// or inserts a new one. Concurrent equivalent creates converge on a single
// row; a genuine code collision advances the salt.
func (c *Coordinator) Create(ctx context.Context, p Params) (*Result, error) {
	canonicalURL, err := canonical.Canonicalize(p.RawURL)
	if err != nil {
		return nil, err
	}
	if err := validateDestination(canonicalURL); err != nil {
		return nil, err
	}

	link, err := c.buildLink(p, canonicalURL)
	if err != nil {
		return nil, err
	}

	if p.CustomCode != "" {
		return c.createWithCustomCode(ctx, link, p.CustomCode)
	}

	// Optimistic fast path: an equivalent live link already exists.
	existing, err := c.store.FindByCanonical(ctx, p.TenantID, canonicalURL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Result{Link: existing, Reused: true}, nil
	}

	for salt := 0; salt <= c.maxSalt; salt++ {
		link.Code = c.deriver.Derive(canonicalURL, p.TenantID, salt)

		res, err := c.store.InsertIfAbsent(ctx, link)
		if err != nil {
			return nil, err
		}

		switch res.Outcome {
		case store.Inserted:
			if salt > 0 {
				c.logger.Info("Short code derived with collision salt",
					zap.Int64("tenant_id", p.TenantID),
					zap.String("code", res.Link.Code),
					zap.Int("salt", salt))
			}
			c.populateCache(ctx, res.Link)
			return &Result{Link: res.Link}, nil

		case store.ConflictByCode:
			if res.Link.CanonicalURL == canonicalURL {
				// A concurrent equivalent create won the race; its row is ours.
				return &Result{Link: res.Link, Reused: true}, nil
			}
			// True hash collision: another URL owns this code. Next salt.
			continue

		case store.ConflictByCanonical:
			winner, err := c.store.FindByCanonical(ctx, p.TenantID, canonicalURL)
			if err != nil {
				return nil, err
			}
			if winner == nil {
				return nil, fmt.Errorf("%w: canonical conflict row disappeared", types.ErrStorageConflict)
			}
			return &Result{Link: winner, Reused: true}, nil
		}
	}

	// An invariant event: every salt collided. Not retryable.
	c.logger.Error("Short code collision unresolved after all salts",
		zap.Int64("tenant_id", p.TenantID),
		zap.String("canonical_url", canonicalURL),
		zap.Int("max_salt", c.maxSalt))
	return nil, types.ErrCollisionUnresolved
}

func (c *Coordinator) createWithCustomCode(ctx context.Context, link *types.ShortLink, customCode string) (*Result, error) {
	if err := c.deriver.Validate(customCode); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidCode, err)
	}
	link.Code = customCode

	res, err := c.store.InsertIfAbsent(ctx, link)
	if err != nil {
		return nil, err
	}
	switch res.Outcome {
	case store.Inserted:
		c.populateCache(ctx, res.Link)
		return &Result{Link: res.Link}, nil
	case store.ConflictByCode:
		return nil, types.ErrCodeTaken
	case store.ConflictByCanonical:
		// The URL is already bound (under some other code); reuse it.
		return &Result{Link: res.Link, Reused: true}, nil
	}
	return nil, fmt.Errorf("%w: unknown insert outcome", types.ErrStorageConflict)
}

// validateDestination refuses destinations whose host is a private IP
// literal. A redirect into private address space turns the service into
// an internal-network probe.
func validateDestination(canonicalURL string) error {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidURL, err)
	}
	if err := urlutil.ValidateHostNotPrivateIP(u.Hostname()); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidURL, err)
	}
	return nil
}

func (c *Coordinator) buildLink(p Params, canonicalURL string) (*types.ShortLink, error) {
	now := time.Now().UTC()

	expiresAt := p.ExpiresAt
	if expiresAt == nil && c.defaultLinkTTL > 0 {
		expiry := now.Add(c.defaultLinkTTL)
		expiresAt = &expiry
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", types.ErrInvalidURL)
	}

	metadata := p.Metadata.Clone()
	if p.MaxClicks != nil {
		if *p.MaxClicks < 0 {
			return nil, fmt.Errorf("%w: max_clicks must be non-negative", types.ErrInvalidURL)
		}
		if metadata == nil {
			metadata = types.LinkMetadata{}
		}
		metadata[types.MetadataKeyMaxClicks] = *p.MaxClicks
	}

	return &types.ShortLink{
		TenantID:     p.TenantID,
		OriginalURL:  p.RawURL,
		CanonicalURL: canonicalURL,
		CreatorID:    p.CreatorID,
		ExpiresAt:    expiresAt,
		IsActive:     true,
		Metadata:     metadata,
	}, nil
}

func (c *Coordinator) populateCache(ctx context.Context, link *types.ShortLink) {
	if c.cache == nil || ctx.Err() != nil {
		return
	}
	c.cache.PutLink(ctx, link)
}

// IsReportable says whether a create failure is a server-side invariant
// event rather than a caller mistake.
func IsReportable(err error) bool {
	return errors.Is(err, types.ErrCollisionUnresolved)
}
