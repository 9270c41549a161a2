package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/entra-guard/internal/testutil"
)

// mockKeySetStore is a testify mock of KeySetStore.
type mockKeySetStore struct {
	mock.Mock
}

func (m *mockKeySetStore) Load(ctx context.Context, url string) ([]byte, time.Time, bool, error) {
	args := m.Called(ctx, url)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Get(1).(time.Time), args.Bool(2), args.Error(3)
}

func (m *mockKeySetStore) Save(ctx context.Context, url string, raw []byte, fetchedAt time.Time) error {
	args := m.Called(ctx, url, raw, fetchedAt)
	return args.Error(0)
}

func TestCache_FetchesAndSharesWhenStoreEmpty(t *testing.T) {
	t.Parallel()
	store := &mockKeySetStore{}
	iss, v := validatorTestSetup(t, func(c *ValidatorConfig) { c.Store = store })

	store.On("Load", mock.Anything, iss.JWKSURL()).Return(nil, time.Time{}, false, nil).Once()
	store.On("Save", mock.Anything, iss.JWKSURL(), mock.AnythingOfType("[]uint8"), mock.AnythingOfType("time.Time")).Return(nil).Once()

	_, err := v.Validate(context.Background(), iss.Sign(t, iss.Claims(validatorTestAudience)))
	require.NoError(t, err)
	assert.Equal(t, 1, iss.Fetches())
	store.AssertExpectations(t)
}

func TestCache_UsesFreshSharedKeySet(t *testing.T) {
	t.Parallel()
	store := &mockKeySetStore{}
	iss, v := validatorTestSetup(t, func(c *ValidatorConfig) { c.Store = store })

	priv := iss.AddKey(t, "shared")
	raw := validatorTestKeySetBody(t, testutil.JWK("shared", &priv.PublicKey))
	store.On("Load", mock.Anything, iss.JWKSURL()).Return(raw, time.Now().Add(-time.Minute), true, nil).Once()

	_, err := v.Validate(context.Background(), iss.Sign(t, iss.Claims(validatorTestAudience)))
	require.NoError(t, err)
	assert.Equal(t, 0, iss.Fetches())
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCache_IgnoresExpiredSharedKeySet(t *testing.T) {
	t.Parallel()
	store := &mockKeySetStore{}
	iss, v := validatorTestSetup(t, func(c *ValidatorConfig) { c.Store = store })

	raw := validatorTestKeySetBody(t)
	store.On("Load", mock.Anything, iss.JWKSURL()).Return(raw, time.Now().Add(-2*time.Hour), true, nil).Once()
	store.On("Save", mock.Anything, iss.JWKSURL(), mock.Anything, mock.Anything).Return(nil).Once()

	_, err := v.Validate(context.Background(), iss.Sign(t, iss.Claims(validatorTestAudience)))
	require.NoError(t, err)
	assert.Equal(t, 1, iss.Fetches())
	store.AssertExpectations(t)
}

func TestCache_StoreFailuresAreIgnored(t *testing.T) {
	t.Parallel()
	store := &mockKeySetStore{}
	iss, v := validatorTestSetup(t, func(c *ValidatorConfig) { c.Store = store })

	store.On("Load", mock.Anything, mock.Anything).Return(nil, time.Time{}, false, errors.New("redis down")).Once()
	store.On("Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()

	_, err := v.Validate(context.Background(), iss.Sign(t, iss.Claims(validatorTestAudience)))
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestCache_UnreadableSharedKeySetIgnored(t *testing.T) {
	t.Parallel()
	store := &mockKeySetStore{}
	iss, v := validatorTestSetup(t, func(c *ValidatorConfig) { c.Store = store })

	store.On("Load", mock.Anything, mock.Anything).Return([]byte("garbage"), time.Now(), true, nil).Once()
	store.On("Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := v.Validate(context.Background(), iss.Sign(t, iss.Claims(validatorTestAudience)))
	require.NoError(t, err)
	assert.Equal(t, 1, iss.Fetches())
}

func TestCache_ForcedRefreshSkipsStore(t *testing.T) {
	t.Parallel()
	store := &mockKeySetStore{}
	iss, v := validatorTestSetup(t, func(c *ValidatorConfig) { c.Store = store })

	store.On("Load", mock.Anything, mock.Anything).Return(nil, time.Time{}, false, nil).Once()
	store.On("Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

	ctx := context.Background()
	_, err := v.Validate(ctx, iss.Sign(t, iss.Claims(validatorTestAudience)))
	require.NoError(t, err)

	iss.RotateKey(t, "key-2")
	_, err = v.Validate(ctx, iss.Sign(t, iss.Claims(validatorTestAudience)))
	require.NoError(t, err)

	assert.Equal(t, 2, iss.Fetches())
	store.AssertExpectations(t)
}

func TestCache_ForcedLoadNotJoinedToPendingLoad(t *testing.T) {
	t.Parallel()
	store := &mockKeySetStore{}
	iss, v := validatorTestSetup(t, func(c *ValidatorConfig) { c.Store = store })

	started := make(chan struct{})
	release := make(chan struct{})
	store.On("Load", mock.Anything, iss.JWKSURL()).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(nil, time.Time{}, false, nil).Once()
	store.On("Save", mock.Anything, iss.JWKSURL(), mock.Anything, mock.Anything).Return(nil)

	pending := make(chan error, 1)
	go func() {
		_, err := v.cache.load(context.Background(), false)
		pending <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := v.cache.load(ctx, true)
	close(release)
	require.NoError(t, err)
	_, found, err := e.key(testutil.IssuerKeyID)
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, <-pending)
	assert.Equal(t, 2, iss.Fetches())
	store.AssertExpectations(t)
}

func TestCacheEntry_MemoizesConvertedKeys(t *testing.T) {
	t.Parallel()
	iss, v := validatorTestSetup(t, nil)
	ctx := context.Background()

	first, err := v.cache.resolveKey(ctx, testutil.IssuerKeyID)
	require.NoError(t, err)
	second, err := v.cache.resolveKey(ctx, testutil.IssuerKeyID)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, iss.Fetches())
}

func TestCache_MalformedDescriptorIsRejection(t *testing.T) {
	t.Parallel()
	iss, v := validatorTestSetup(t, nil)
	iss.ServeBody([]byte(`{"keys":[{"kty":"RSA","kid":"key-1","n":"AQAB","e":"AQAB"}]}`))

	_, err := v.Validate(context.Background(), iss.Sign(t, iss.Claims(validatorTestAudience)))
	validatorTestRequireReason(t, err, ReasonMalformed)
}

func TestCache_ColdFetchFailureWithoutStaleSet(t *testing.T) {
	t.Parallel()
	iss, v := validatorTestSetup(t, func(c *ValidatorConfig) { c.FetchMaxRetries = 0 })
	iss.FailNext(1, http.StatusBadGateway)

	_, err := v.Validate(context.Background(), iss.Sign(t, iss.Claims(validatorTestAudience)))
	require.Error(t, err)
	_, isRejection := ReasonOf(err)
	assert.False(t, isRejection)

	_, err = v.Validate(context.Background(), iss.Sign(t, iss.Claims(validatorTestAudience)))
	assert.NoError(t, err, "next call fetches again")
	assert.Equal(t, 2, iss.Fetches())
}
