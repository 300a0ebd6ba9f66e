package cmab_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/flagkit/pkg/cmab"
	"github.com/dmitrymomot/flagkit/pkg/datafile"
)

type stubFetcher struct {
	calls       int
	variationID string
	err         error
	lastAttrs   map[string]any
}

func (f *stubFetcher) FetchDecision(_ context.Context, _, _ string, attributes map[string]any, _ string) (string, error) {
	f.calls++
	f.lastAttrs = attributes
	return f.variationID, f.err
}

func cmabConfig() *datafile.ProjectConfig {
	return datafile.NewProjectConfig(datafile.Project{
		Experiments: []datafile.Experiment{{
			ID:     "exp-1",
			Key:    "cmab_experiment",
			Status: datafile.StatusRunning,
			Cmab: &datafile.Cmab{
				AttributeIDs:      []string{"attr-age", "attr-plan"},
				TrafficAllocation: 10000,
			},
		}},
		Attributes: []datafile.Attribute{
			{ID: "attr-age", Key: "age"},
			{ID: "attr-plan", Key: "plan"},
			{ID: "attr-other", Key: "other"},
		},
	})
}

func TestServiceGetDecision(t *testing.T) {
	t.Parallel()

	attrs := map[string]any{"age": 30, "plan": "pro", "other": "ignored"}

	t.Run("caches by user and rule", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{variationID: "var-1"}
		svc := cmab.NewService(fetcher)

		d1, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)
		d2, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)

		assert.Equal(t, 1, fetcher.calls)
		assert.Equal(t, "var-1", d1.VariationID)
		assert.Equal(t, d1.CmabUUID, d2.CmabUUID, "cached decision keeps the original uuid")
	})

	t.Run("filters attributes to the rule context", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{variationID: "var-1"}
		svc := cmab.NewService(fetcher)

		_, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"age": 30, "plan": "pro"}, fetcher.lastAttrs)
	})

	t.Run("attribute change invalidates cached entry", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{variationID: "var-1"}
		svc := cmab.NewService(fetcher)

		_, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)

		changed := map[string]any{"age": 31, "plan": "pro"}
		_, err = svc.GetDecision(context.Background(), cmabConfig(), "user-1", changed, "exp-1", cmab.Options{})
		require.NoError(t, err)
		assert.Equal(t, 2, fetcher.calls)
	})

	t.Run("irrelevant attribute change keeps the cache hit", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{variationID: "var-1"}
		svc := cmab.NewService(fetcher)

		_, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)

		changed := map[string]any{"age": 30, "plan": "pro", "other": "different"}
		_, err = svc.GetDecision(context.Background(), cmabConfig(), "user-1", changed, "exp-1", cmab.Options{})
		require.NoError(t, err)
		assert.Equal(t, 1, fetcher.calls)
	})

	t.Run("ignore cache fetches without reading or writing", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{variationID: "var-1"}
		svc := cmab.NewService(fetcher)

		d1, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)

		d2, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{IgnoreCache: true})
		require.NoError(t, err)
		assert.Equal(t, 2, fetcher.calls)
		assert.NotEqual(t, d1.CmabUUID, d2.CmabUUID)

		// The bypassed fetch must not have overwritten the cached entry.
		d3, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)
		assert.Equal(t, 2, fetcher.calls)
		assert.Equal(t, d1.CmabUUID, d3.CmabUUID)
	})

	t.Run("reset cache clears all entries", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{variationID: "var-1"}
		svc := cmab.NewService(fetcher)

		_, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)
		_, err = svc.GetDecision(context.Background(), cmabConfig(), "user-2", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)

		_, err = svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{ResetCache: true})
		require.NoError(t, err)
		_, err = svc.GetDecision(context.Background(), cmabConfig(), "user-2", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)
		assert.Equal(t, 4, fetcher.calls)
	})

	t.Run("invalidate user cache evicts only that user", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{variationID: "var-1"}
		svc := cmab.NewService(fetcher)

		_, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)
		_, err = svc.GetDecision(context.Background(), cmabConfig(), "user-2", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)

		_, err = svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{InvalidateUserCache: true})
		require.NoError(t, err)
		assert.Equal(t, 3, fetcher.calls)

		_, err = svc.GetDecision(context.Background(), cmabConfig(), "user-2", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)
		assert.Equal(t, 3, fetcher.calls, "other user's entry survives")
	})

	t.Run("fetch failure is not cached", func(t *testing.T) {
		t.Parallel()
		fetcher := &stubFetcher{err: errors.New("boom")}
		svc := cmab.NewService(fetcher)

		_, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{})
		require.Error(t, err)

		fetcher.err = nil
		fetcher.variationID = "var-2"
		d, err := svc.GetDecision(context.Background(), cmabConfig(), "user-1", attrs, "exp-1", cmab.Options{})
		require.NoError(t, err)
		assert.Equal(t, "var-2", d.VariationID)
		assert.Equal(t, 2, fetcher.calls)
	})
}

func TestCacheKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "6-user-1-exp-1", cmab.CacheKey("user-1", "exp-1"))
	assert.NotEqual(t, cmab.CacheKey("ab", "c-d"), cmab.CacheKey("ab-c", "d"))
}

func TestHashAttributes(t *testing.T) {
	t.Parallel()

	a := cmab.HashAttributes(map[string]any{"b": 2, "a": 1})
	b := cmab.HashAttributes(map[string]any{"a": 1, "b": 2})
	assert.Equal(t, a, b, "order-insensitive")
	assert.Len(t, a, 8)

	c := cmab.HashAttributes(map[string]any{"a": 1, "b": 3})
	assert.NotEqual(t, a, c)
}
