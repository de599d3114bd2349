package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/me/testfleet/pkg/model"
)

// Role is the access level a key grants.
type Role int

const (
	RoleNone Role = iota
	RoleRead
	RoleWrite // implies read
)

func (r Role) String() string {
	switch r {
	case RoleRead:
		return "read"
	case RoleWrite:
		return "write"
	}
	return "none"
}

const ctxKeyRole ctxKey = "role"

// RoleFromContext returns the role granted to the request.
func RoleFromContext(ctx context.Context) Role {
	if r, ok := ctx.Value(ctxKeyRole).(Role); ok {
		return r
	}
	return RoleNone
}

// KeyConfig holds the read-role and write-role credentials.
type KeyConfig struct {
	read  []string
	write []string
}

// NewKeyConfig creates a KeyConfig. Empty strings are ignored.
func NewKeyConfig(readKeys, writeKeys []string) *KeyConfig {
	c := &KeyConfig{}
	for _, k := range readKeys {
		if k != "" {
			c.read = append(c.read, k)
		}
	}
	for _, k := range writeKeys {
		if k != "" {
			c.write = append(c.write, k)
		}
	}
	return c
}

// IsEnabled returns true if any key is configured.
func (c *KeyConfig) IsEnabled() bool {
	return len(c.read) > 0 || len(c.write) > 0
}

// Resolve returns the highest role granted by the presented keys.
func (c *KeyConfig) Resolve(readKey, writeKey string) Role {
	if writeKey != "" && matchAny(c.write, writeKey) {
		return RoleWrite
	}
	if readKey != "" && matchAny(c.read, readKey) {
		return RoleRead
	}
	return RoleNone
}

func matchAny(keys []string, presented string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(presented)) == 1 {
			return true
		}
	}
	return false
}

// hashKey creates a short hash of the key for logging purposes.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:8])
}

// authMiddleware resolves X-Read-Key / X-Write-Key into a role.
// If no keys are configured, every caller gets the write role.
func authMiddleware(keys *KeyConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleWrite
			if keys != nil && keys.IsEnabled() {
				readKey := r.Header.Get("X-Read-Key")
				writeKey := r.Header.Get("X-Write-Key")
				if readKey == "" && writeKey == "" {
					fail(w, r, &model.APIError{
						Code:    model.ErrUnauthorized,
						Message: "authentication required (X-Read-Key or X-Write-Key header missing)",
					})
					return
				}
				role = keys.Resolve(readKey, writeKey)
				if role == RoleNone {
					presented := writeKey
					if presented == "" {
						presented = readKey
					}
					logger.Warn("invalid lock store key", "key_hash", hashKey(presented))
					fail(w, r, &model.APIError{
						Code:    model.ErrUnauthorized,
						Message: "invalid key",
					})
					return
				}
			}

			ctx := context.WithValue(r.Context(), ctxKeyRole, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireRole rejects requests whose role is below min.
func requireRole(min Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) < min {
				fail(w, r, &model.APIError{
					Code:    model.ErrForbidden,
					Message: min.String() + " role required",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
