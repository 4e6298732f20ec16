// file: ratelimit/guard.go

package ratelimit

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go-task-api/logger"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
)

// Limiter is the part of WindowStore the guard depends on.
type Limiter interface {
	Admit(key string, limit int, window time.Duration) (Result, error)
}

// Rule is the quota configured for a route.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Request carries what the guard needs to know about an incoming request.
// Subject is the authenticated user ID, empty for anonymous callers.
type Request struct {
	Subject    string
	RemoteAddr string
	Method     string
	Route      string
}

// Decision is the guard's verdict plus the quota metadata for the response.
type Decision struct {
	Allowed    bool
	Key        string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	FailedOpen bool
}

// Guard derives rate keys and turns store results into admission decisions.
// It holds no state of its own.
type Guard struct {
	store Limiter
	now   func() time.Time
}

// NewGuard wraps store. When store exposes a Now method, fail-open decisions
// use that clock so their reset times agree with the store's.
func NewGuard(store Limiter) *Guard {
	g := &Guard{store: store, now: time.Now}
	if c, ok := store.(interface{ Now() time.Time }); ok {
		g.now = c.Now
	}
	return g
}

// Key builds the rate key for a request. An authenticated subject always wins
// over the remote address; addresses are hashed before use.
func Key(req Request) string {
	method := strings.ToUpper(req.Method)
	if req.Subject != "" {
		return fmt.Sprintf("user:%s:%s:%s", req.Subject, method, req.Route)
	}
	return fmt.Sprintf("ip:%s:%s:%s", HashAddress(req.RemoteAddr), method, req.Route)
}

// HashAddress returns a fast non-cryptographic digest of the host part of addr.
func HashAddress(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	return strconv.FormatUint(xxhash.Sum64String(host), 16)
}

// Admit consults the store for req under rule. Store failures, including
// panics, admit the request and are logged.
func (g *Guard) Admit(ctx context.Context, req Request, rule Rule) (d Decision) {
	key := Key(req)

	defer func() {
		if r := recover(); r != nil {
			d = g.failOpen(ctx, key, rule, fmt.Errorf("panic: %v", r))
		}
	}()

	res, err := g.store.Admit(key, rule.Limit, rule.Window)
	if err != nil {
		return g.failOpen(ctx, key, rule, err)
	}

	d = Decision{
		Allowed: res.Allowed,
		Key:     key,
		Limit:   rule.Limit,
		ResetAt: res.ResetAt,
	}
	if res.Allowed {
		d.Remaining = rule.Limit - res.Count - 1
	}
	return d
}

func (g *Guard) failOpen(ctx context.Context, key string, rule Rule, err error) Decision {
	logger.Log.WithContext(ctx).WithFields(logrus.Fields{
		"rate_key": key,
		"limit":    rule.Limit,
		"window":   rule.Window.String(),
	}).WithError(err).Warn("Rate limiter failed, admitting request")

	return Decision{
		Allowed:    true,
		Key:        key,
		Limit:      rule.Limit,
		Remaining:  rule.Limit,
		ResetAt:    g.now().Add(rule.Window),
		FailedOpen: true,
	}
}
