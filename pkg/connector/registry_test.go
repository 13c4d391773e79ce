package connector

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id     int
	closed int
}

func (c *fakeClient) Close() error {
	c.closed++
	return nil
}

func countingFactory() (func() (*fakeClient, error), *int) {
	n := 0
	return func() (*fakeClient, error) {
		n++
		return &fakeClient{id: n}, nil
	}, &n
}

func TestRegistrySharesByKey(t *testing.T) {
	r := NewRegistry[*fakeClient]()
	factory, created := countingFactory()
	k := Key{ModelID: "gpt-4o", APIKeyEnv: "OPENAI_API_KEY"}

	a, releaseA, err := r.Acquire(k, factory)
	require.NoError(t, err)
	b, releaseB, err := r.Acquire(k, factory)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, *created)

	other, releaseOther, err := r.Acquire(Key{ModelID: "gpt-4o", APIKeyEnv: "OTHER_KEY"}, factory)
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, r.Len())

	releaseA()
	releaseA() // ignored
	assert.Zero(t, a.closed)
	releaseB()
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, r.Len())

	releaseOther()
	assert.Zero(t, r.Len())

	// a fresh client is created after the last release
	c, release, err := r.Acquire(k, factory)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	release()
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry[*fakeClient]()
	boom := errors.New("boom")
	_, _, err := r.Acquire(Key{ModelID: "m"}, func() (*fakeClient, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, r.Len())
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry[*fakeClient]()
	factory, _ := countingFactory()

	a, release, err := r.Acquire(Key{ModelID: "m"}, factory)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, 1, a.closed)

	release()
	assert.Equal(t, 1, a.closed)

	_, _, err = r.Acquire(Key{ModelID: "m"}, factory)
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistryNonCloser(t *testing.T) {
	r := NewRegistry[string]()
	s, release, err := r.Acquire(Key{ModelID: "m"}, func() (string, error) { return "client", nil })
	require.NoError(t, err)
	assert.Equal(t, "client", s)
	release()
	assert.NoError(t, r.Close())
}

func TestRegistryConcurrentAcquire(t *testing.T) {
	r := NewRegistry[*fakeClient]()
	factory, created := countingFactory()

	var wg sync.WaitGroup
	releases := make(chan func(), 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := r.Acquire(Key{ModelID: "m"}, factory)
			if err == nil {
				releases <- release
			}
		}()
	}
	wg.Wait()
	close(releases)

	assert.Equal(t, 1, *created)
	for release := range releases {
		release()
	}
	assert.Zero(t, r.Len())
}

func TestRegistrySeparatesEndpoints(t *testing.T) {
	r := NewRegistry[*fakeClient]()
	factory, created := countingFactory()

	a, releaseA, err := r.Acquire(Key{Endpoint: "https://a", ModelID: "m", APIKeyEnv: "K"}, factory)
	require.NoError(t, err)
	b, releaseB, err := r.Acquire(Key{Endpoint: "https://b", ModelID: "m", APIKeyEnv: "K"}, factory)
	require.NoError(t, err)
	defer releaseA()
	defer releaseB()

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, *created)
}
