//go:build integration

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	policymodels "authgate/internal/policy/models"
	"authgate/internal/ratelimit/store/block"
	"authgate/internal/ratelimit/store/bucket"
	"authgate/pkg/testutil"
	"authgate/pkg/testutil/containers"
)

func TestProgressiveBlockOnRedis(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	testutil.Given(t, "a limiter backed by redis", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		svc, err := New(bucket.NewRedisStore(rc.Client), block.NewRedisStore(rc.Client))
		require.NoError(t, err)

		testutil.When(t, "an identifier exceeds the magic link allowance", func(t *testing.T) {
			for i := range 3 {
				res, err := svc.RecordAttempt(ctx, policymodels.CategoryMagicLink, "person@example.com")
				require.NoError(t, err)
				require.True(t, res.Allowed, "attempt %d", i+1)
			}
			start := time.Now()
			res, err := svc.RecordAttempt(ctx, policymodels.CategoryMagicLink, "person@example.com")
			require.NoError(t, err)

			testutil.Then(t, "it is blocked for fifteen minutes", func(t *testing.T) {
				assert.False(t, res.Allowed)
				require.NotNil(t, res.BlockedUntil)
				assert.WithinDuration(t, start.Add(15*time.Minute), *res.BlockedUntil, 2*time.Second)
			})

			testutil.Then(t, "the block and offense live under hashed keys", func(t *testing.T) {
				keys, err := rc.Client.Keys(ctx, "auth:ratelimit:magic_link:*").Result()
				require.NoError(t, err)
				require.NotEmpty(t, keys)
				for _, k := range keys {
					assert.NotContains(t, k, "example.com")
				}
			})

			testutil.Then(t, "a reset lifts the block", func(t *testing.T) {
				require.NoError(t, svc.Reset(ctx, policymodels.CategoryMagicLink, "person@example.com"))
				res, err := svc.RecordAttempt(ctx, policymodels.CategoryMagicLink, "person@example.com")
				require.NoError(t, err)
				assert.True(t, res.Allowed)
			})
		})
	})
}
