package datastore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEndpoint remembers positive existence checks for a while so a user
// retyping the same case ID does not hit the datastore again. Negative
// answers are never cached; a case created a moment ago must be found.
type CachedEndpoint struct {
	Endpoint
	exists *expirable.LRU[string, bool]
}

// NewCachedEndpoint wraps ep. A ttl of zero disables caching.
func NewCachedEndpoint(ep Endpoint, size int, ttl time.Duration) Endpoint {
	if ttl <= 0 {
		return ep
	}
	if size <= 0 {
		size = 1024
	}
	return &CachedEndpoint{
		Endpoint: ep,
		exists:   expirable.NewLRU[string, bool](size, nil, ttl),
	}
}

// CaseExists consults the cache before the wrapped endpoint.
func (c *CachedEndpoint) CaseExists(ctx context.Context, prefix string) (bool, error) {
	if ok, hit := c.exists.Get(prefix); hit {
		return ok, nil
	}
	ok, err := c.Endpoint.CaseExists(ctx, prefix)
	if err != nil {
		return false, err
	}
	if ok {
		c.exists.Add(prefix, true)
	}
	return ok, nil
}
