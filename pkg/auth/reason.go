package auth

import (
	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

// RejectionReason classifies why a presented token was refused. The set is
// closed; every rejection returned by [TokenValidator.Validate] carries
// exactly one of these.
type RejectionReason int

const (
	// ReasonMalformed covers structural problems: bad segments, bad JSON,
	// an unsupported algorithm, a missing exp, a not-yet-valid token, or an
	// unusable signing key.
	ReasonMalformed RejectionReason = iota + 1

	// ReasonMissingKeyID means the token header has no kid.
	ReasonMissingKeyID

	// ReasonUnknownKeyID means no key with the token's kid exists, even
	// after refreshing the provider's key set.
	ReasonUnknownKeyID

	// ReasonExpired means the exp claim has passed.
	ReasonExpired

	// ReasonInvalidAudience means aud is absent or does not name this
	// service.
	ReasonInvalidAudience

	// ReasonInvalidIssuer means iss is absent or not the trusted issuer.
	ReasonInvalidIssuer

	// ReasonInvalidSignature means the signature does not verify against
	// the resolved key.
	ReasonInvalidSignature
)

var reasonInfo = map[RejectionReason]struct {
	name    string
	message string
	code    sserr.Code
}{
	ReasonMalformed:        {"malformed", "Invalid token", sserr.CodeAuthenticationInvalid},
	ReasonMissingKeyID:     {"missing_key_id", "Invalid token: missing key ID", sserr.CodeAuthenticationMissingKeyID},
	ReasonUnknownKeyID:     {"unknown_key_id", "Unable to find public key for token", sserr.CodeAuthenticationUnknownKeyID},
	ReasonExpired:          {"expired", "Token has expired", sserr.CodeAuthenticationExpired},
	ReasonInvalidAudience:  {"invalid_audience", "Invalid audience", sserr.CodeAuthenticationAudience},
	ReasonInvalidIssuer:    {"invalid_issuer", "Invalid issuer", sserr.CodeAuthenticationIssuer},
	ReasonInvalidSignature: {"invalid_signature", "Invalid signature", sserr.CodeAuthenticationSignature},
}

// String returns a stable snake_case identifier, used in logs and span
// attributes.
func (r RejectionReason) String() string {
	if info, ok := reasonInfo[r]; ok {
		return info.name
	}
	return "unknown"
}

// Message returns the client-safe description of the rejection.
func (r RejectionReason) Message() string {
	if info, ok := reasonInfo[r]; ok {
		return info.message
	}
	return reasonInfo[ReasonMalformed].message
}

// Code returns the error code a rejection with this reason carries.
func (r RejectionReason) Code() sserr.Code {
	if info, ok := reasonInfo[r]; ok {
		return info.code
	}
	return sserr.CodeAuthentication
}

// reject builds the error for reason r. cause is kept for logs and may be
// nil.
func reject(r RejectionReason, cause error) *sserr.Error {
	return &sserr.Error{Code: r.Code(), Message: r.Message(), Cause: cause}
}

// ReasonOf reports the rejection reason carried by err. It returns false for
// nil and for infrastructure failures, which are never rejections.
func ReasonOf(err error) (RejectionReason, bool) {
	code := sserr.GetCode(err)
	if code == "" {
		return 0, false
	}
	for r, info := range reasonInfo {
		if info.code == code {
			return r, true
		}
	}
	return 0, false
}
