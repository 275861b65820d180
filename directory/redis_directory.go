package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v9"
	"github.com/johnewart/go-orleans-storage/grains"
)

type RedisDirectory struct {
	redisClient *redis.Client
}

var _ Directory = (*RedisDirectory)(nil)

func NewRedisDirectory(redisHostPort string) *RedisDirectory {
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisHostPort,
	})

	return &RedisDirectory{
		redisClient: redisClient,
	}
}

func locationKeyForGrain(id grains.GrainIdentity) string {
	return "loc://" + id.String()
}

func (r *RedisDirectory) Healthy(ctx context.Context) bool {
	if _, err := r.redisClient.Ping(ctx).Result(); err != nil {
		return false
	} else {
		return true
	}
}

func (r *RedisDirectory) Place(ctx context.Context, id grains.GrainIdentity, addr SiloAddress) error {
	addrJson, err := json.Marshal(addr)
	if err != nil {
		return fmt.Errorf("unable to marshal silo address: %v", err)
	}

	if _, err := r.redisClient.Set(ctx, locationKeyForGrain(id), addrJson, 0).Result(); err != nil {
		return fmt.Errorf("unable to place grain: %v", err)
	} else {
		return nil
	}
}

func (r *RedisDirectory) Lookup(ctx context.Context, id grains.GrainIdentity) (*SiloAddress, error) {
	if res, err := r.redisClient.Get(ctx, locationKeyForGrain(id)).Result(); err != nil {
		if err == redis.Nil {
			return nil, nil
		} else {
			return nil, fmt.Errorf("unable to look up grain: %v", err)
		}
	} else {
		var addr SiloAddress
		if decodeErr := json.Unmarshal([]byte(res), &addr); decodeErr != nil {
			return nil, fmt.Errorf("unable to decode silo address: %v", decodeErr)
		}
		return &addr, nil
	}
}

func (r *RedisDirectory) Evict(ctx context.Context, id grains.GrainIdentity) error {
	return r.redisClient.Del(ctx, locationKeyForGrain(id)).Err()
}
