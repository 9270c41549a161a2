package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

func httpTestServe(t *testing.T, v Validator, logger *slog.Logger, authHeader string) (*httptest.ResponseRecorder, context.Context) {
	t.Helper()
	var captured context.Context
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Context()
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/stats/device-1", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rr := httptest.NewRecorder()
	HTTPMiddleware(v, logger)(inner).ServeHTTP(rr, req)
	return rr, captured
}

func httpTestBody(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

// ---------------------------------------------------------------------------
// ExtractBearerToken
// ---------------------------------------------------------------------------

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer abc", "abc"},
		{"BEARER abc", "abc"},
		{"Bearer   abc  ", "abc"},
		{"Bearer ", ""},
		{"Bearer", ""},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractBearerToken(tt.header), "header %q", tt.header)
	}
}

// ---------------------------------------------------------------------------
// HTTPMiddleware
// ---------------------------------------------------------------------------

func TestHTTPMiddleware_ValidToken(t *testing.T) {
	t.Parallel()
	validator := &mockValidator{claims: newTestClaims()}

	rr, ctx := httpTestServe(t, validator, validatorTestLogger(), "Bearer valid-token")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "valid-token", validator.token)
	claims, ok := ClaimsFromContext(ctx)
	require.True(t, ok, "claims not found in context after middleware")
	assert.Equal(t, "user-42", claims.Subject())
}

func TestHTTPMiddleware_MissingOrNonBearerHeader(t *testing.T) {
	t.Parallel()

	for _, header := range []string{"", "Basic dXNlcjpwYXNz", "Bearer "} {
		validator := &mockValidator{claims: newTestClaims()}
		rr, ctx := httpTestServe(t, validator, validatorTestLogger(), header)

		assert.Nil(t, ctx, "inner handler must not run for %q", header)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, `Bearer error="invalid_request"`, rr.Header().Get("WWW-Authenticate"))
		assert.Equal(t, "Not authenticated", httpTestBody(t, rr).Detail)
		assert.Empty(t, validator.token)
	}
}

func TestHTTPMiddleware_Rejection(t *testing.T) {
	t.Parallel()

	for _, reason := range []RejectionReason{ReasonExpired, ReasonInvalidAudience, ReasonMissingKeyID, ReasonMalformed} {
		rr, ctx := httpTestServe(t, &mockValidator{err: reject(reason, errors.New("internal detail"))}, validatorTestLogger(), "Bearer t")

		assert.Nil(t, ctx)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t,
			`Bearer error="invalid_token", error_description="`+reason.Message()+`"`,
			rr.Header().Get("WWW-Authenticate"))
		body := httpTestBody(t, rr)
		assert.Equal(t, reason.Message(), body.Detail)
		assert.Empty(t, body.Reference)
		assert.NotContains(t, rr.Body.String(), "internal detail")
	}
}

func TestHTTPMiddleware_InfrastructureFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unavailable", sserr.New(sserr.CodeUnavailableDependency, "dial tcp 10.0.0.1:443"), http.StatusServiceUnavailable},
		{"timeout", sserr.New(sserr.CodeTimeoutDependency, "deadline"), http.StatusGatewayTimeout},
		{"bad key set", sserr.New(sserr.CodeInternalKeySet, "bad json"), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var logs bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&logs, nil))

			rr, ctx := httpTestServe(t, &mockValidator{err: tt.err}, logger, "Bearer t")

			assert.Nil(t, ctx)
			assert.Equal(t, tt.want, rr.Code)
			assert.Empty(t, rr.Header().Get("WWW-Authenticate"))
			body := httpTestBody(t, rr)
			assert.Equal(t, "Authentication is temporarily unavailable", body.Detail)
			_, err := uuid.Parse(body.Reference)
			assert.NoError(t, err)
			assert.NotContains(t, rr.Body.String(), tt.err.Error())

			assert.Contains(t, logs.String(), body.Reference)
			assert.Contains(t, logs.String(), "auth: token validation failed")
		})
	}
}

func TestHTTPMiddleware_EndToEnd(t *testing.T) {
	t.Parallel()
	iss, v := validatorTestSetup(t, nil)

	rr, ctx := httpTestServe(t, v, nil, "Bearer "+iss.Sign(t, iss.Claims(validatorTestAudience)))
	require.Equal(t, http.StatusOK, rr.Code)
	claims, ok := ClaimsFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, iss.IssuerURL(), claims.Issuer())

	rr, _ = httpTestServe(t, v, nil, "Bearer "+iss.Sign(t, iss.Claims("api://other")))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid audience", httpTestBody(t, rr).Detail)
}
