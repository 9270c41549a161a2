package errors

// Code is a machine-readable error code of the form CATEGORY_NNN. Codes are
// stable once assigned; clients and dashboards may key on them.
type Code string

// Categories and the HTTP status each maps to:
//
//	VAL_xxx     - 400 Bad Request (configuration and input validation)
//	AUTH_xxx    - 401 Unauthorized (token rejections)
//	INT_xxx     - 500 Internal Server Error
//	UNAVAIL_xxx - 503 Service Unavailable
//	TIMEOUT_xxx - 504 Gateway Timeout
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required setting is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a setting has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// CodeAuthentication indicates a general authentication failure, such as
	// a missing or garbled Authorization header.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the token's exp claim has passed.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates the token is structurally invalid.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationMissingKeyID indicates the token header carries no kid.
	CodeAuthenticationMissingKeyID Code = "AUTH_004"

	// CodeAuthenticationUnknownKeyID indicates the kid is not in the
	// provider's current key set.
	CodeAuthenticationUnknownKeyID Code = "AUTH_005"

	// CodeAuthenticationAudience indicates the aud claim does not name this
	// service.
	CodeAuthenticationAudience Code = "AUTH_006"

	// CodeAuthenticationIssuer indicates the iss claim is not the trusted
	// issuer.
	CodeAuthenticationIssuer Code = "AUTH_007"

	// CodeAuthenticationSignature indicates signature verification failed.
	CodeAuthenticationSignature Code = "AUTH_008"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalConfiguration indicates a configuration loading error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeInternalKeySet indicates the provider returned a key set that
	// could not be parsed.
	CodeInternalKeySet Code = "INT_004"

	// CodeInternalCache indicates the shared key-set store failed.
	CodeInternalCache Code = "INT_005"

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependency (the identity
	// provider or the shared cache) could not be reached.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutCache indicates a shared cache operation timed out.
	CodeTimeoutCache Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates a call to the identity provider timed
	// out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("AUTH" for
// "AUTH_002"). A code without an underscore is its own category.
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
