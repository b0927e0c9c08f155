package server

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/crmbilling/internal/config"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	contextAPIKeyNameKey = "api_key_name"
	contextAPIKeyRoleKey = "api_key_role"
)

// APIKeyRequired authenticates the Bearer key against the configured bcrypt
// hashes and checks the key's role against the route policy. It is a no-op
// when auth is disabled.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.Auth.Enabled {
			c.Next()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		key, ok := s.keys.Verify(parts[1])
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if !s.limiter.Allow(key.Name) {
			AbortWithError(c, ErrRateLimited)
			return
		}

		if err := s.authz.Authorize(key.Role, c.Request.URL.Path, c.Request.Method); err != nil {
			s.log.Warn("api key denied",
				zap.String("api_key", key.Name),
				zap.String("role", key.Role),
				zap.String("path", c.Request.URL.Path),
			)
			AbortWithError(c, err)
			return
		}

		c.Set(contextAPIKeyNameKey, key.Name)
		c.Set(contextAPIKeyRoleKey, key.Role)
		c.Next()
	}
}

type apiKeyVerifier struct {
	keys []config.APIKeyConfig

	mu       sync.RWMutex
	verified map[string]config.APIKeyConfig
}

func newAPIKeyVerifier(keys []config.APIKeyConfig) *apiKeyVerifier {
	return &apiKeyVerifier{
		keys:     keys,
		verified: make(map[string]config.APIKeyConfig),
	}
}

// Verify finds the configured key whose hash matches token. Successful
// matches are memoised by digest so bcrypt runs once per key.
func (v *apiKeyVerifier) Verify(token string) (config.APIKeyConfig, bool) {
	sum := sha256.Sum256([]byte(token))
	digest := hex.EncodeToString(sum[:])

	v.mu.RLock()
	key, ok := v.verified[digest]
	v.mu.RUnlock()
	if ok {
		return key, true
	}

	for _, candidate := range v.keys {
		if candidate.Hash == "" {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(candidate.Hash), []byte(token)) == nil {
			v.mu.Lock()
			v.verified[digest] = candidate
			v.mu.Unlock()
			return candidate, true
		}
	}
	return config.APIKeyConfig{}, false
}

type keyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

// newKeyLimiter returns nil when perMinute is zero, which allows everything.
func newKeyLimiter(perMinute int) *keyLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &keyLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Every(time.Minute / time.Duration(perMinute)),
		b:        perMinute,
	}
}

func (l *keyLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
