package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/httpserver"
)

// Pinger is the minimal interface for a dependency capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface{ Ping(ctx context.Context) RedisPingResult }

// GoRedis adapts *redis.Client to RedisClient.
type GoRedis struct{ Client *redis.Client }

// Ping implements RedisClient.
func (g GoRedis) Ping(ctx context.Context) RedisPingResult { return g.Client.Ping(ctx) }

// BuildReadinessChecks returns the db, redis and queue checks. A nil
// dependency reports "not configured" for db and is skipped for the queue.
func BuildReadinessChecks(pool Pinger, rdb RedisClient, queue Pinger) []httpserver.Check {
	checks := []httpserver.Check{
		{Name: "db", Fn: func(ctx context.Context) error {
			if pool == nil {
				return fmt.Errorf("db not configured")
			}
			return pool.Ping(ctx)
		}},
		{Name: "redis", Fn: func(ctx context.Context) error {
			if rdb == nil {
				return fmt.Errorf("redis not configured")
			}
			return rdb.Ping(ctx).Err()
		}},
	}
	if queue != nil {
		checks = append(checks, httpserver.Check{Name: "queue", Fn: queue.Ping})
	}
	return checks
}
