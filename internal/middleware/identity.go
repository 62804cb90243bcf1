package middleware

import (
	"context"
	"log"
	"strings"

	"github.com/finflow-labs/sentinel/internal/policy"
	"github.com/finflow-labs/sentinel/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	ctxIdentifier = "identifier"
	ctxTier       = "tier"
)

// Identity resolves the caller to an opaque identifier and a tier, in
// order of preference: JWT bearer claims, API key, client IP. Malformed
// credentials degrade to the IP fallback instead of failing the request;
// the protection engine never issues sessions, it only consumes them.
func Identity(authService *service.AuthService, apiKeyService *service.APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier, tier := resolveIdentity(c, authService, apiKeyService)
		c.Set(ctxIdentifier, identifier)
		c.Set(ctxTier, tier)
		c.Next()
	}
}

func resolveIdentity(c *gin.Context, authService *service.AuthService, apiKeyService *service.APIKeyService) (string, policy.Tier) {
	if authService != nil {
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				claims, err := authService.ValidateToken(parts[1])
				if err == nil {
					if userID, ok := claims["user_id"].(string); ok && userID != "" {
						tier := policy.TierFree
						if t, ok := claims["tier"].(string); ok {
							if parsed, valid := policy.ParseTier(t); valid {
								tier = parsed
							}
						}
						c.Set("user_id", userID)
						return "user:" + userID, tier
					}
				} else {
					log.Printf("invalid bearer token from %s, falling back to IP identity: %v", c.ClientIP(), err)
				}
			}
		}
	}

	if apiKeyService != nil {
		if keyHeader := strings.TrimSpace(c.GetHeader("X-API-Key")); keyHeader != "" {
			apiKey, err := apiKeyService.Validate(c.Request.Context(), keyHeader)
			if err == nil && apiKey != nil {
				tier := policy.TierFree
				if parsed, valid := policy.ParseTier(apiKey.Tier); valid {
					tier = parsed
				}
				c.Set("api_key", apiKey)
				go apiKeyService.UpdateLastUsed(context.Background(), apiKey.ID)
				return "key:" + apiKey.ID.String(), tier
			}
			if err != nil {
				log.Printf("api key validation failed from %s, falling back to IP identity: %v", c.ClientIP(), err)
			}
		}
	}

	return "ip:" + c.ClientIP(), policy.TierFree
}

// Identifier returns the resolved caller identifier, falling back to the
// client IP when the identity middleware did not run.
func Identifier(c *gin.Context) string {
	if id := c.GetString(ctxIdentifier); id != "" {
		return id
	}
	return "ip:" + c.ClientIP()
}

// TierOf returns the resolved tier, defaulting to free.
func TierOf(c *gin.Context) policy.Tier {
	if v, ok := c.Get(ctxTier); ok {
		if tier, ok := v.(policy.Tier); ok {
			return tier
		}
	}
	return policy.TierFree
}
