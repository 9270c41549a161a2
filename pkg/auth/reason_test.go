package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

func TestRejectionReason_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason  RejectionReason
		name    string
		message string
		code    sserr.Code
	}{
		{ReasonMalformed, "malformed", "Invalid token", sserr.CodeAuthenticationInvalid},
		{ReasonMissingKeyID, "missing_key_id", "Invalid token: missing key ID", sserr.CodeAuthenticationMissingKeyID},
		{ReasonUnknownKeyID, "unknown_key_id", "Unable to find public key for token", sserr.CodeAuthenticationUnknownKeyID},
		{ReasonExpired, "expired", "Token has expired", sserr.CodeAuthenticationExpired},
		{ReasonInvalidAudience, "invalid_audience", "Invalid audience", sserr.CodeAuthenticationAudience},
		{ReasonInvalidIssuer, "invalid_issuer", "Invalid issuer", sserr.CodeAuthenticationIssuer},
		{ReasonInvalidSignature, "invalid_signature", "Invalid signature", sserr.CodeAuthenticationSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.name, tt.reason.String())
			assert.Equal(t, tt.message, tt.reason.Message())
			assert.Equal(t, tt.code, tt.reason.Code())

			err := reject(tt.reason, nil)
			assert.Equal(t, http.StatusUnauthorized, err.HTTPStatus())
			got, ok := ReasonOf(fmt.Errorf("wrapped: %w", err))
			assert.True(t, ok)
			assert.Equal(t, tt.reason, got)
		})
	}
}

func TestRejectionReason_Unknown(t *testing.T) {
	t.Parallel()
	var r RejectionReason
	assert.Equal(t, "unknown", r.String())
	assert.Equal(t, "Invalid token", r.Message())
	assert.Equal(t, sserr.CodeAuthentication, r.Code())
}

func TestReasonOf_NotARejection(t *testing.T) {
	t.Parallel()

	for _, err := range []error{
		nil,
		errors.New("plain"),
		sserr.New(sserr.CodeUnavailableDependency, "down"),
		sserr.New(sserr.CodeTimeoutDependency, "slow"),
		sserr.New(sserr.CodeInternalKeySet, "bad"),
		sserr.New(sserr.CodeAuthentication, "no header"),
	} {
		_, ok := ReasonOf(err)
		assert.False(t, ok, "ReasonOf(%v)", err)
	}
}

func TestReject_KeepsCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("detail for logs")
	err := reject(ReasonExpired, cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Token has expired", err.Message)
}
