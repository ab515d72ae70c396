package advert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bornholm/lanupdate/probe"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu          sync.Mutex
	published   []Descriptor
	withdrawals int
	failures    int
	current     *Descriptor
}

func (f *fakePublisher) Publish(ctx context.Context, d Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return errors.New("disk full")
	}

	f.published = append(f.published, d)
	f.current = &d

	return nil
}

func (f *fakePublisher) Withdraw(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.withdrawals++
	f.current = nil

	return nil
}

func (f *fakePublisher) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.published), f.withdrawals
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond, MaxAttempts: 3}
}

func testState(token string) probe.State {
	return probe.State{
		Token:      token,
		Latest:     time.Unix(1_700_000_000, 0),
		OSTreePath: "/ostree/eos-amd64",
		Refs:       []probe.Ref{{Name: "ostree/1/1/0", Checksum: "abc"}},
	}
}

func TestManagerTransitions(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	m := NewManager(43381, WithPublisher("fake", pub), WithRetryPolicy(fastRetry()))

	// ABSENT -> PUBLISHED
	require.NoError(t, m.Apply(ctx, true, testState("one")))

	d, ok := m.Published()
	require.True(t, ok)
	require.Equal(t, 43381, d.Port)
	require.Equal(t, "one", d.Fingerprint)

	// PUBLISHED -> PUBLISHED with an unchanged fingerprint does nothing.
	require.NoError(t, m.Apply(ctx, true, testState("one")))
	published, withdrawals := pub.counts()
	require.Equal(t, 1, published)
	require.Equal(t, 0, withdrawals)

	// Refresh
	require.NoError(t, m.Apply(ctx, true, testState("two")))
	published, _ = pub.counts()
	require.Equal(t, 2, published)
	require.Equal(t, "two", pub.current.Fingerprint)

	// PUBLISHED -> ABSENT on disable
	require.NoError(t, m.Apply(ctx, false, testState("two")))
	_, ok = m.Published()
	require.False(t, ok)
	_, withdrawals = pub.counts()
	require.Equal(t, 1, withdrawals)

	// ABSENT -> ABSENT does nothing.
	require.NoError(t, m.Apply(ctx, false, testState("three")))
	require.NoError(t, m.Apply(ctx, true, probe.State{}))
	_, withdrawals = pub.counts()
	require.Equal(t, 1, withdrawals)
}

func TestManagerEmptyRepositoryWithdraws(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	m := NewManager(8080, WithPublisher("fake", pub), WithRetryPolicy(fastRetry()))

	require.NoError(t, m.Apply(ctx, true, testState("one")))
	require.NoError(t, m.Apply(ctx, true, probe.State{}))

	_, ok := m.Published()
	require.False(t, ok)
	require.Nil(t, pub.current)
}

func TestManagerFirstWithdrawClearsStaleDescriptor(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	m := NewManager(8080, WithPublisher("fake", pub), WithRetryPolicy(fastRetry()))

	require.NoError(t, m.Apply(ctx, true, probe.State{}))
	require.NoError(t, m.Apply(ctx, true, probe.State{}))

	_, withdrawals := pub.counts()
	require.Equal(t, 1, withdrawals)
}

func TestManagerRoundTrip(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	m := NewManager(8080, WithPublisher("fake", pub), WithRetryPolicy(fastRetry()))

	state := testState("stable")

	require.NoError(t, m.Apply(ctx, true, state))
	first, _ := m.Published()

	require.NoError(t, m.Apply(ctx, false, state))
	require.NoError(t, m.Apply(ctx, true, state))

	second, ok := m.Published()
	require.True(t, ok)
	require.True(t, first.Equal(second))
	require.Equal(t, first.Port, second.Port)
	require.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestManagerRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{failures: 2}
	m := NewManager(8080, WithPublisher("fake", pub), WithRetryPolicy(fastRetry()))

	require.NoError(t, m.Apply(ctx, true, testState("one")))

	_, ok := m.Published()
	require.True(t, ok)
}

func TestManagerPersistentFailure(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{failures: 10}
	m := NewManager(8080, WithPublisher("fake", pub), WithRetryPolicy(fastRetry()))

	err := m.Apply(ctx, true, testState("one"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrAdvertisementWrite))

	_, ok := m.Published()
	require.False(t, ok)

	// The next event retries from scratch.
	pub.mu.Lock()
	pub.failures = 0
	pub.mu.Unlock()

	require.NoError(t, m.Apply(ctx, true, testState("one")))
	_, ok = m.Published()
	require.True(t, ok)
}

func TestManagerClose(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	m := NewManager(8080, WithPublisher("fake", pub), WithRetryPolicy(fastRetry()))

	require.NoError(t, m.Apply(ctx, true, testState("one")))
	require.NoError(t, m.Close(ctx))
	require.Nil(t, pub.current)

	require.NoError(t, m.Close(ctx))
	_, withdrawals := pub.counts()
	require.Equal(t, 1, withdrawals)
}

func TestManagerConcurrentApply(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	m := NewManager(8080, WithPublisher("fake", pub), WithRetryPolicy(fastRetry()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Apply(ctx, i%2 == 0, testState("token"))
		}(i)
	}
	wg.Wait()

	d, ok := m.Published()
	if ok {
		require.NotNil(t, pub.current)
		require.True(t, d.Equal(*pub.current))
	} else {
		require.Nil(t, pub.current)
	}
}

func TestDescriptorTXTRecords(t *testing.T) {
	d := NewDescriptor(43381, testState("deadbeef"))

	require.Equal(t, []string{
		"eos_txt_version=1",
		"eos_ostree_path=/ostree/eos-amd64",
		"eos_head_commit_timestamp=1700000000",
		"eos_fingerprint=deadbeef",
	}, d.TXTRecords())

	d.OSTreePath = ""
	require.Len(t, d.TXTRecords(), 3)
}
