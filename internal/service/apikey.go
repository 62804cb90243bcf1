package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finflow-labs/sentinel/internal/models"
	"github.com/finflow-labs/sentinel/internal/policy"
	"github.com/finflow-labs/sentinel/internal/repository"
	"github.com/finflow-labs/sentinel/internal/storage"
	"github.com/google/uuid"
)

type APIKeyService struct {
	repository *repository.APIKeyRepository
	redis      *storage.RedisClient
}

func NewAPIKeyService(repo *repository.APIKeyRepository, redis *storage.RedisClient) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		redis:      redis,
	}
}

func (s *APIKeyService) Create(ctx context.Context, name, createdBy, tier string) (string, error) {
	if _, ok := policy.ParseTier(tier); !ok {
		return "", fmt.Errorf("unknown tier %q", tier)
	}

	// Generate random key
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	key := "fs_" + base64.URLEncoding.EncodeToString(keyBytes)

	// Hash the key for storage
	hash := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(hash[:])

	apiKey := models.APIKey{
		KeyHash:   keyHash,
		Name:      name,
		CreatedBy: createdBy,
		Tier:      tier,
		IsActive:  true,
	}

	if err := s.repository.Create(ctx, &apiKey); err != nil {
		return "", fmt.Errorf("failed to create API key: %w", err)
	}

	// Return plain key (only time it's visible)
	return key, nil
}

func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	hash := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(hash[:])

	// Check cache first
	cacheKey := fmt.Sprintf("apikey:cache:%s", keyHash)
	cached, err := s.redis.Get(ctx, cacheKey)

	if err == nil && cached != "" {
		var apiKey models.APIKey
		if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
			return &apiKey, nil
		}
	}

	// Cache miss - query database
	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}

	if apiKey == nil {
		return nil, nil
	}

	apiKeyJSON, _ := json.Marshal(apiKey)
	s.redis.Set(ctx, cacheKey, apiKeyJSON, 5*time.Minute)

	return apiKey, nil
}

func (s *APIKeyService) Get(ctx context.Context, id string) (*models.APIKey, error) {
	return s.repository.FindByID(ctx, id)
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.repository.List(ctx)
}

func (s *APIKeyService) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	if tier, ok := updates["tier"].(string); ok {
		if _, valid := policy.ParseTier(tier); !valid {
			return fmt.Errorf("unknown tier %q", tier)
		}
	}

	// Tier and activity changes must not serve stale from cache
	if _, hasTier := updates["tier"]; hasTier {
		s.invalidateCache(ctx, id)
	}
	if _, hasActive := updates["is_active"]; hasActive {
		s.invalidateCache(ctx, id)
	}

	return s.repository.Update(ctx, id, updates)
}

func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	s.invalidateCache(ctx, id)

	return s.repository.Delete(ctx, id)
}

func (s *APIKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	s.repository.UpdateLastUsed(ctx, id)
}

func (s *APIKeyService) invalidateCache(ctx context.Context, id string) {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil || apiKey == nil {
		return
	}

	cacheKey := fmt.Sprintf("apikey:cache:%s", apiKey.KeyHash)
	s.redis.Del(ctx, cacheKey)
}
