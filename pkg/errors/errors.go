// Package errors provides the structured error type shared by every
// entra-guard package. Each error carries a machine-readable code, a message
// that is safe to show to a client, an optional cause, and optional details
// intended for logs only.
//
// # Error Classes
//
// Codes fall into two disjoint classes that callers must never conflate:
//
//   - Rejections (AUTH_xxx): the presented token is not acceptable. These are
//     expected, client-caused, and map to HTTP 401.
//   - Infrastructure failures (INT_xxx, UNAVAIL_xxx, TIMEOUT_xxx): something
//     on the server side went wrong, such as the identity provider's key
//     endpoint being unreachable. These map to 5xx and are logged with detail.
//
// Configuration problems detected at startup use VAL_xxx codes and are fatal.
//
// # Usage
//
//	err := errors.New(errors.CodeAuthenticationExpired, "Token has expired")
//
//	if errors.IsServerError(err) {
//	    logger.Error("token validation failed", "error", err)
//	}
package errors
