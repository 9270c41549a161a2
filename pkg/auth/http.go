package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

// HeaderAuthorization is the header carrying the bearer token.
const HeaderAuthorization = "Authorization"

const bearerPrefix = "Bearer "

// notAuthenticated is the detail sent when no usable bearer token was
// presented at all.
const notAuthenticated = "Not authenticated"

// unavailableDetail is the detail sent for infrastructure failures. The
// actual cause is only logged.
const unavailableDetail = "Authentication is temporarily unavailable"

// ExtractBearerToken returns the token from an Authorization header value,
// matching the "Bearer " scheme case-insensitively. It returns "" when the
// scheme is different or the token is empty.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}

// errorBody is the JSON body of every error response.
type errorBody struct {
	Detail    string `json:"detail"`
	Reference string `json:"reference,omitempty"`
}

// HTTPMiddleware returns middleware that admits a request only when its
// bearer token validates.
//
//   - No usable Authorization header: 401, error="invalid_request".
//   - A rejected token: 401, error="invalid_token" with the reason's
//     message as error_description and as the JSON detail.
//   - An infrastructure failure: logged with a reference id, then 500, 503
//     or 504 with a generic detail and that reference.
//
// On success the [Claims] are available through [ClaimsFromContext].
//
//	handler := auth.HTTPMiddleware(validator, logger)(mux)
func HTTPMiddleware(validator Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_request"`)
				writeJSON(w, http.StatusUnauthorized, errorBody{Detail: notAuthenticated})
				return
			}

			ctx := r.Context()
			claims, err := validator.Validate(ctx, token)
			if err != nil {
				if reason, ok := ReasonOf(err); ok {
					w.Header().Set("WWW-Authenticate",
						fmt.Sprintf(`Bearer error="invalid_token", error_description=%q`, reason.Message()))
					writeJSON(w, http.StatusUnauthorized, errorBody{Detail: reason.Message()})
					return
				}

				ref := uuid.NewString()
				ssErr := sserr.FromError(err)
				logger.ErrorContext(ctx, "auth: token validation failed",
					"error", err,
					"code", ssErr.Code.String(),
					"details", ssErr.Details,
					"reference", ref,
					"path", r.URL.Path,
				)
				writeJSON(w, ssErr.HTTPStatus(), errorBody{Detail: unavailableDetail, Reference: ref})
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, claims)))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
