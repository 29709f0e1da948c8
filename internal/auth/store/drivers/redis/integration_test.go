//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	redisstore "github.com/aussiebroadwan/gatehouse/internal/auth/store/drivers/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestChallengesAgainstRedis(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })

	r := redisstore.NewChallenges(rdb, "it")
	require.NoError(t, r.Ping(ctx))

	now := time.Now().UTC()
	const mobile = "+15550000002"
	a := newChallenge(mobile, domain.PurposeLogin, now)
	b := newChallenge(mobile, domain.PurposeLogin, now.Add(time.Millisecond))

	_, err = r.Issue(ctx, a, now)
	require.NoError(t, err)
	n, err := r.Issue(ctx, b, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	c, err := r.LatestValid(ctx, mobile, domain.PurposeLogin, now)
	require.NoError(t, err)
	require.Equal(t, b.ID, c.ID)

	c.RecordAttempt(domain.Attempt{AttemptedAt: now, Success: true})
	require.NoError(t, r.Update(ctx, &c))

	ttl, err := rdb.TTL(ctx, "it:"+a.ID).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 24*time.Hour)
}
