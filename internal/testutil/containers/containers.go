//go:build integration

// Package containers provides testcontainers-go helpers for integration
// tests that need a real Redis to back the shared key-set store.
//
// Everything here is gated behind the "integration" build tag so unit test
// builds never pull in Docker dependencies:
//
//	//go:build integration
//
//	result, err := containers.StartRedis(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
package containers

import (
	"context"
	"fmt"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// DefaultRedisImage is the Redis image used by [StartRedis].
const DefaultRedisImage = "docker.io/redis:7-alpine"

// RedisResult holds a started Redis container and its connection string.
type RedisResult struct {
	// Container is the started container. Terminate it when done.
	Container *tcredis.RedisContainer

	// ConnString is a redis:// URI suitable for redis.Config.URI.
	ConnString string
}

// StartRedis starts a [DefaultRedisImage] container. If the connection
// string cannot be obtained the container is terminated before returning.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}

	return &RedisResult{Container: container, ConnString: connStr}, nil
}
