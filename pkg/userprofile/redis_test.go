package userprofile_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/flagkit/pkg/userprofile"
)

func newRedisService(t *testing.T, opts ...userprofile.RedisServiceOption) (*userprofile.RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return userprofile.NewRedisService(client, opts...), mr
}

func TestRedisService(t *testing.T) {
	t.Parallel()

	t.Run("save and lookup round trip", func(t *testing.T) {
		t.Parallel()
		service, _ := newRedisService(t)

		profile := userprofile.NewProfile("user-1")
		profile.ExperimentBucketMap["exp-1"] = userprofile.Decision{VariationID: "var-1"}
		require.NoError(t, service.Save(profile))

		got, ok, err := service.Lookup("user-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, "var-1", got.VariationID("exp-1"))
	})

	t.Run("missing profile", func(t *testing.T) {
		t.Parallel()
		service, _ := newRedisService(t)

		_, ok, err := service.Lookup("nobody")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("save replaces previous profile", func(t *testing.T) {
		t.Parallel()
		service, _ := newRedisService(t)

		profile := userprofile.NewProfile("user-1")
		profile.ExperimentBucketMap["exp-1"] = userprofile.Decision{VariationID: "var-1"}
		require.NoError(t, service.Save(profile))

		profile.ExperimentBucketMap["exp-1"] = userprofile.Decision{VariationID: "var-2"}
		require.NoError(t, service.Save(profile))

		got, ok, err := service.Lookup("user-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "var-2", got.VariationID("exp-1"))
	})

	t.Run("profiles expire after the TTL", func(t *testing.T) {
		t.Parallel()
		service, mr := newRedisService(t, userprofile.WithProfileTTL(time.Minute))

		require.NoError(t, service.Save(userprofile.NewProfile("user-1")))
		mr.FastForward(2 * time.Minute)

		_, ok, err := service.Lookup("user-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("corrupt stored value surfaces an error", func(t *testing.T) {
		t.Parallel()
		service, mr := newRedisService(t)

		require.NoError(t, mr.Set("flagkit:user_profile:user-1", "not json"))
		_, _, err := service.Lookup("user-1")
		require.Error(t, err)
	})

	t.Run("works behind the decide tracker", func(t *testing.T) {
		t.Parallel()
		service, _ := newRedisService(t)

		tracker := userprofile.NewTracker(service, "user-1", nil)
		tracker.Update("exp-1", "var-1")
		tracker.Save()

		fresh := userprofile.NewTracker(service, "user-1", nil)
		assert.Equal(t, "var-1", fresh.VariationID("exp-1"))
	})
}
