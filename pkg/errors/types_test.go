package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  New(CodeAuthenticationExpired, "Token has expired"),
			want: "AUTH_002: Token has expired",
		},
		{
			name: "with cause",
			err:  Wrap(stderrors.New("dial tcp: refused"), CodeUnavailableDependency, "key set unavailable"),
			want: "UNAVAIL_002: key set unavailable: dial tcp: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("root")
	err := Wrap(cause, CodeInternalKeySet, "bad key set")

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, cause, err.Unwrap())
	assert.Nil(t, New(CodeInternal, "x").Unwrap())
}

func TestError_HTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code Code
		want int
	}{
		{CodeValidationRequired, http.StatusBadRequest},
		{CodeAuthenticationExpired, http.StatusUnauthorized},
		{CodeAuthenticationSignature, http.StatusUnauthorized},
		{CodeInternalKeySet, http.StatusInternalServerError},
		{CodeUnavailableDependency, http.StatusServiceUnavailable},
		{CodeTimeoutDependency, http.StatusGatewayTimeout},
		{Code("WEIRD_001"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New(tt.code, "m").HTTPStatus())
		})
	}
}

func TestError_WithDetail_DoesNotMutateOriginal(t *testing.T) {
	t.Parallel()

	base := New(CodeUnavailableDependency, "key set unavailable").WithDetail("url", "https://a")
	derived := base.WithDetail("attempts", 3)

	require.Len(t, base.Details, 1)
	require.Len(t, derived.Details, 2)
	assert.Equal(t, "https://a", derived.Details["url"])
	assert.Equal(t, 3, derived.Details["attempts"])
}

func TestError_Format(t *testing.T) {
	t.Parallel()

	err := Wrap(stderrors.New("boom"), CodeInternal, "failed").WithDetail("k", "v")

	assert.Equal(t, "INT_001: failed: boom", fmt.Sprintf("%v", err))
	assert.Equal(t, "INT_001: failed: boom", fmt.Sprintf("%s", err))
	assert.Equal(t, `"INT_001: failed: boom"`, fmt.Sprintf("%q", err))

	verbose := fmt.Sprintf("%+v", err)
	assert.Contains(t, verbose, `Code: "INT_001"`)
	assert.Contains(t, verbose, "Details: map[k:v]")
	assert.Contains(t, verbose, "Cause: boom")
}

func TestCode_Category(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AUTH", CodeAuthenticationAudience.Category())
	assert.Equal(t, "TIMEOUT", CodeTimeoutDependency.Category())
	assert.Equal(t, "PLAIN", Code("PLAIN").Category())
}
