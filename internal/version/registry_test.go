package version_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saan-system/uprl-core/internal/domain"
	"github.com/saan-system/uprl-core/internal/infrastructure/lock"
	"github.com/saan-system/uprl-core/internal/version"
	"github.com/saan-system/uprl-core/pkg/logger"
)

// fakeVersionStore is an in-memory domain.VersionReader stand-in,
// matching the teacher's pattern of testing against the repository
// interface with a fake rather than a real database.
type fakeVersionStore struct {
	mu   sync.Mutex
	max  map[string]int
}

func newFakeVersionStore() *fakeVersionStore {
	return &fakeVersionStore{max: map[string]int{}}
}

func (f *fakeVersionStore) MaxVersion(_ context.Context, family domain.VersionFamily, scopeKey string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.max[string(family)+":"+scopeKey], nil
}

func (f *fakeVersionStore) commit(family domain.VersionFamily, scopeKey string, v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(family) + ":" + scopeKey
	if v > f.max[key] {
		f.max[key] = v
	}
}

func TestRegistry_StartsAtOne(t *testing.T) {
	store := newFakeVersionStore()
	reg := version.NewRegistry(store, lock.NewShardedMutex(4), logger.New("error", "text"))

	v, err := reg.Next(context.Background(), domain.FamilyPricing, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestRegistry_MonotonicPerScope(t *testing.T) {
	store := newFakeVersionStore()
	reg := version.NewRegistry(store, lock.NewShardedMutex(4), logger.New("error", "text"))
	ctx := context.Background()

	v1, _ := reg.Next(ctx, domain.FamilyPricing, "ORD-1")
	store.commit(domain.FamilyPricing, "ORD-1", v1)
	v2, _ := reg.Next(ctx, domain.FamilyPricing, "ORD-1")
	store.commit(domain.FamilyPricing, "ORD-1", v2)
	v3, _ := reg.Next(ctx, domain.FamilyPricing, "ORD-1")

	assert.Equal(t, []int{1, 2, 3}, []int{v1, v2, v3})
}

func TestRegistry_IndependentScopesDoNotCrossContaminate(t *testing.T) {
	store := newFakeVersionStore()
	reg := version.NewRegistry(store, lock.NewShardedMutex(4), logger.New("error", "text"))
	ctx := context.Background()

	pv, _ := reg.Next(ctx, domain.FamilyPricing, "ORD-1")
	store.commit(domain.FamilyPricing, "ORD-1", pv)
	payV, _ := reg.Next(ctx, domain.FamilyPayment, "ORD-1")

	assert.Equal(t, 1, pv)
	assert.Equal(t, 1, payV)
}

func TestRegistry_ConcurrentCallersForSameScopeYieldDistinctVersions(t *testing.T) {
	store := newFakeVersionStore()
	reg := version.NewRegistry(store, lock.NewShardedMutex(4), logger.New("error", "text"))
	ctx := context.Background()

	const n = 20
	results := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.WithNextVersion(ctx, domain.FamilySupplier, "ORD-1", func(v int) error {
				store.commit(domain.FamilySupplier, "ORD-1", v)
				results <- v
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for v := range results {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)
}
