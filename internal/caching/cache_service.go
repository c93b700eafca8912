package caching

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"studyhub/internal/models"
)

type CacheService interface {
	// Tier catalog caching
	GetTier(ctx context.Context, tierID uuid.UUID) (*models.SubscriptionTier, error)
	SetTier(ctx context.Context, tier *models.SubscriptionTier, ttl time.Duration) error
	GetTierList(ctx context.Context) ([]*models.SubscriptionTier, error)
	SetTierList(ctx context.Context, tiers []*models.SubscriptionTier, ttl time.Duration) error
	InvalidateTiers(ctx context.Context) error

	// Rate limiting
	IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	Ping(ctx context.Context) error
}

type redisCacheService struct {
	client *redis.Client
}

func NewRedisCacheService(addr, password string, db int) CacheService {
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if hostPort := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://"); hostPort != addr {
			parsedAddr = hostPort
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		log.Printf("WARN: Redis ping failed on initialization: %v (address: %s)", pingErr, parsedAddr)
	}

	return &redisCacheService{client: client}
}

func (r *redisCacheService) GetTier(ctx context.Context, tierID uuid.UUID) (*models.SubscriptionTier, error) {
	key := fmt.Sprintf("studyhub:tier:%s", tierID.String())
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // cache miss
		}
		return nil, err
	}

	var tier models.SubscriptionTier
	if err := json.Unmarshal(data, &tier); err != nil {
		return nil, err
	}
	return &tier, nil
}

func (r *redisCacheService) SetTier(ctx context.Context, tier *models.SubscriptionTier, ttl time.Duration) error {
	key := fmt.Sprintf("studyhub:tier:%s", tier.ID.String())
	data, err := json.Marshal(tier)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *redisCacheService) GetTierList(ctx context.Context) ([]*models.SubscriptionTier, error) {
	data, err := r.client.Get(ctx, "studyhub:tiers").Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // cache miss
		}
		return nil, err
	}

	var tiers []*models.SubscriptionTier
	if err := json.Unmarshal(data, &tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

func (r *redisCacheService) SetTierList(ctx context.Context, tiers []*models.SubscriptionTier, ttl time.Duration) error {
	data, err := json.Marshal(tiers)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, "studyhub:tiers", data, ttl).Err()
}

func (r *redisCacheService) InvalidateTiers(ctx context.Context) error {
	keys, err := r.client.Keys(ctx, "studyhub:tier*").Result()
	if err != nil {
		return err
	}

	if len(keys) > 0 {
		return r.client.Del(ctx, keys...).Err()
	}
	return nil
}

func (r *redisCacheService) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	cacheKey := fmt.Sprintf("studyhub:ratelimit:%s", key)
	count, err := r.client.Incr(ctx, cacheKey).Result()
	if err != nil {
		return true, err
	}

	// Set expiry on first request
	if count == 1 {
		r.client.Expire(ctx, cacheKey, window)
	}

	return count > int64(limit), nil
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
