package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

const storeTestURL = "https://login.microsoftonline.com/tenant-a/discovery/v2.0/keys"

const storeTestKeys = `{"keys":[{"kty":"RSA","kid":"key-1","n":"AQAB","e":"AQAB"}]}`

func TestKeySetStore_Key(t *testing.T) {
	t.Parallel()

	s := NewKeySetStore(NewFromClient(new(mockCmdable), nil), "", 0)
	key := s.Key(storeTestURL)

	assert.True(t, strings.HasPrefix(key, DefaultKeyPrefix))
	assert.Len(t, strings.TrimPrefix(key, DefaultKeyPrefix), 64)
	assert.Equal(t, key, s.Key(storeTestURL))
	assert.NotEqual(t, key, s.Key(storeTestURL+"?other"))
	assert.Equal(t, DefaultKeySetTTL, s.ttl)
}

func TestKeySetStore_SaveThenLoad(t *testing.T) {
	t.Parallel()

	m := new(mockCmdable)
	s := NewKeySetStore(NewFromClient(m, nil), "test:", 30*time.Minute)
	key := s.Key(storeTestURL)
	fetchedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var stored string
	m.On("Set", mock.Anything, key, mock.AnythingOfType("string"), 30*time.Minute).
		Run(func(args mock.Arguments) { stored = args.String(2) }).
		Return(newStatusCmd("OK", nil))

	require.NoError(t, s.Save(context.Background(), storeTestURL, []byte(storeTestKeys), fetchedAt))

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(stored), &env))
	assert.Contains(t, env, "fetched_at")
	assert.JSONEq(t, storeTestKeys, string(env["document"]))
	assert.NotContains(t, env, "keys")

	m.On("Get", mock.Anything, key).Return(newStringCmd(stored, nil))

	raw, at, ok, err := s.Load(context.Background(), storeTestURL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, fetchedAt.Equal(at))
	assert.JSONEq(t, storeTestKeys, string(raw))

	m.AssertExpectations(t)
}

func TestKeySetStore_Load_Missing(t *testing.T) {
	t.Parallel()

	m := new(mockCmdable)
	s := NewKeySetStore(NewFromClient(m, nil), "", 0)
	m.On("Get", mock.Anything, s.Key(storeTestURL)).Return(newStringCmd("", redis.Nil))

	raw, at, ok, err := s.Load(context.Background(), storeTestURL)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, raw)
	assert.True(t, at.IsZero())
}

func TestKeySetStore_Load_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		err   error
		want  sserr.Code
	}{
		{name: "redis down", err: errors.New("connection refused"), want: sserr.CodeInternalCache},
		{name: "timeout", err: context.DeadlineExceeded, want: sserr.CodeTimeoutCache},
		{name: "not json", value: "not-json", want: sserr.CodeInternalCache},
		{name: "missing document", value: `{"fetched_at":"2026-03-01T12:00:00Z"}`, want: sserr.CodeInternalCache},
		{name: "missing timestamp", value: `{"document":{"keys":[]}}`, want: sserr.CodeInternalCache},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := new(mockCmdable)
			s := NewKeySetStore(NewFromClient(m, nil), "", 0)
			m.On("Get", mock.Anything, s.Key(storeTestURL)).Return(newStringCmd(tt.value, tt.err))

			_, _, ok, err := s.Load(context.Background(), storeTestURL)
			require.Error(t, err)
			assert.False(t, ok)
			assert.Equal(t, tt.want, sserr.GetCode(err))
		})
	}
}

func TestKeySetStore_Save_RejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	m := new(mockCmdable)
	s := NewKeySetStore(NewFromClient(m, nil), "", 0)

	err := s.Save(context.Background(), storeTestURL, []byte("{truncated"), time.Now())
	require.Error(t, err)
	assert.Equal(t, sserr.CodeInternalCache, sserr.GetCode(err))
	m.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestKeySetStore_Save_PropagatesRedisError(t *testing.T) {
	t.Parallel()

	m := new(mockCmdable)
	s := NewKeySetStore(NewFromClient(m, nil), "", 0)
	m.On("Set", mock.Anything, s.Key(storeTestURL), mock.Anything, DefaultKeySetTTL).
		Return(newStatusCmd("", errors.New("OOM command not allowed")))

	err := s.Save(context.Background(), storeTestURL, []byte(storeTestKeys), time.Now())
	require.Error(t, err)
	assert.True(t, sserr.IsInternal(err))
}
