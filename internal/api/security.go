package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// payloadKey is where the gate stashes the parsed webhook body for handlers.
const payloadKey = "webhook_payload"

// CounterStore counts requests per key within a rolling window. The
// in-memory implementation gives per-instance limits; the Redis-backed one
// is accurate across instances.
type CounterStore interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// SecurityGate screens inbound provider webhooks. The provider offers no
// request signature, so the gate layers an IP allowlist, payload-shape
// checks, and a staleness log on top of per-IP rate limiting.
type SecurityGate struct {
	allowedIPs []string
	maxAge     time.Duration
	production bool
	counters   CounterStore
	perMinute  int64
	logger     *zap.Logger
}

// NewSecurityGate creates a gate. An empty allowlist fails closed in
// production and open (with a warning) everywhere else.
func NewSecurityGate(allowedIPs []string, maxAge time.Duration, production bool, counters CounterStore, perMinute int) *SecurityGate {
	return &SecurityGate{
		allowedIPs: allowedIPs,
		maxAge:     maxAge,
		production: production,
		counters:   counters,
		perMinute:  int64(perMinute),
		logger:     util.GetLogger(),
	}
}

// Middleware returns the gin middleware enforcing all gate layers.
func (g *SecurityGate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		// Rate limiting applies even to allowlisted sources: a compromised
		// or spoofed allowlisted IP must still be bounded.
		count, err := g.counters.IncrWindow(c.Request.Context(), ip, time.Minute)
		if err != nil {
			g.logger.Error("Rate limit counter unavailable", zap.Error(err))
		} else if count > g.perMinute {
			util.WebhooksRateLimitedTotal.Inc()
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		if len(g.allowedIPs) == 0 {
			if g.production {
				util.WebhooksRejectedTotal.WithLabelValues("no_allowlist").Inc()
				g.logger.Error("Webhook allowlist not configured, rejecting in production")
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "webhook source verification unavailable",
				})
				return
			}
			g.logger.Warn("Webhook allowlist not configured, allowing request in non-production",
				zap.String("ip", ip))
		} else if !ipAllowed(ip, g.allowedIPs) {
			util.WebhooksRejectedTotal.WithLabelValues("ip_denied").Inc()
			g.logger.Warn("Webhook from unlisted IP rejected", zap.String("ip", ip))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "source not allowed",
			})
			return
		}

		if !strings.Contains(c.ContentType(), "application/json") {
			util.WebhooksRejectedTotal.WithLabelValues("content_type").Inc()
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "expected application/json",
			})
			return
		}

		body, err := c.GetRawData()
		if err != nil || len(body) == 0 {
			util.WebhooksRejectedTotal.WithLabelValues("empty_body").Inc()
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "empty request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

		payload, ok := parsePayload(body)
		if !ok {
			util.WebhooksRejectedTotal.WithLabelValues("malformed_json").Inc()
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "malformed JSON payload",
			})
			return
		}

		// A provider reference or a merchant api_ref both correlate; some
		// providers send only the latter on first delivery.
		_, hasReference := extractReference(payload)
		_, hasAPIRef := extractAPIRef(payload)
		if !hasReference && !hasAPIRef {
			util.WebhooksRejectedTotal.WithLabelValues("no_reference").Inc()
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "payload carries no recognized reference field",
			})
			return
		}

		// Stale webhooks are expected under provider retry and clock skew;
		// log for visibility, never reject.
		if ts, ok := extractTimestamp(payload); ok && time.Since(ts) > g.maxAge {
			util.WebhooksStaleTotal.Inc()
			g.logger.Warn("Stale webhook received",
				zap.String("ip", ip),
				zap.Time("payload_timestamp", ts),
				zap.Duration("age", time.Since(ts)))
		}

		c.Set(payloadKey, payload)
		c.Next()
	}
}

// ipAllowed matches exactly, through the IPv6-mapped prefix, or against
// wildcard segment patterns like "196.201.214.*".
func ipAllowed(ip string, patterns []string) bool {
	unmapped := strings.TrimPrefix(ip, "::ffff:")
	for _, pattern := range patterns {
		if ip == pattern || unmapped == pattern {
			return true
		}
		if strings.Contains(pattern, "*") && (segmentsMatch(ip, pattern) || segmentsMatch(unmapped, pattern)) {
			return true
		}
	}
	return false
}

func segmentsMatch(ip, pattern string) bool {
	ipParts := strings.Split(ip, ".")
	patParts := strings.Split(pattern, ".")
	if len(ipParts) != len(patParts) {
		return false
	}
	for i := range patParts {
		if patParts[i] != "*" && patParts[i] != ipParts[i] {
			return false
		}
	}
	return true
}

// MemoryCounterStore is the process-local CounterStore. Multi-instance
// deployments get per-instance limits with this implementation; use the
// Redis-backed store for cross-instance accuracy.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
	stop     chan struct{}
	stopOnce sync.Once
}

type windowCounter struct {
	count   int64
	expires time.Time
}

// NewMemoryCounterStore creates a store and starts its eviction loop.
func NewMemoryCounterStore() *MemoryCounterStore {
	s := &MemoryCounterStore{
		counters: make(map[string]*windowCounter),
		stop:     make(chan struct{}),
	}
	go s.evictLoop()
	return s
}

// IncrWindow implements CounterStore.
func (s *MemoryCounterStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctr, ok := s.counters[key]
	if !ok || now.After(ctr.expires) {
		s.counters[key] = &windowCounter{count: 1, expires: now.Add(window)}
		return 1, nil
	}
	ctr.count++
	return ctr.count, nil
}

// Stop terminates the eviction loop.
func (s *MemoryCounterStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryCounterStore) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, ctr := range s.counters {
				if now.After(ctr.expires) {
					delete(s.counters, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
