package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/config"
	"github.com/amoylab/oauthd/pkg/utils"
)

// NewClient opens a single, sentinel or cluster client and pings it
func NewClient(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	addrs := utils.SplitByMultipleDelimiters(cfg.Addr, ";", ",")
	if len(addrs) == 0 {
		return nil, errors.New("redis addr is empty")
	}

	var client redis.UniversalClient
	switch cfg.ClusterType {
	case "", cnst.RedisClusterTypeSingle:
		client = redis.NewClient(&redis.Options{
			Addr:     addrs[0],
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	case cnst.RedisClusterTypeSentinel:
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:      addrs,
			MasterName: cfg.MasterName,
			Username:   cfg.Username,
			Password:   cfg.Password,
			DB:         cfg.DB,
		})
	case cnst.RedisClusterTypeCluster:
		// can not set db in cluster mode
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Username: cfg.Username,
			Password: cfg.Password,
		})
	default:
		return nil, fmt.Errorf("unsupported redis cluster type %q", cfg.ClusterType)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Key joins a configured prefix and the parts with ':'
func Key(prefix string, parts ...string) string {
	n := len(prefix)
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	b = append(b, prefix...)
	for _, p := range parts {
		if len(b) > 0 {
			b = append(b, ':')
		}
		b = append(b, p...)
	}
	return string(b)
}
