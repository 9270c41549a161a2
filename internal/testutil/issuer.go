package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Issuer is an in-process stand-in for an Entra tenant. It serves the
// tenant's key set over TLS at /{tenant}/discovery/v2.0/keys and signs RS256
// tokens whose iss matches the tenant's issuer URL, so validators can be
// exercised end to end without network access.
//
//	iss := testutil.NewIssuer(t, "tid")
//	token := iss.Sign(t, iss.Claims("api://board"))
type Issuer struct {
	server *httptest.Server
	tenant string

	fetches atomic.Int64

	mu         sync.Mutex
	keys       []issuerKey
	failNext   int
	failStatus int
	body       []byte
	delay      time.Duration
}

type issuerKey struct {
	kid  string
	priv *rsa.PrivateKey
}

// IssuerKeyID is the kid of the key every new Issuer starts with.
const IssuerKeyID = "key-1"

// NewIssuer starts a TLS server for tenant with one 2048-bit signing key.
// The server is closed when the test ends.
func NewIssuer(t testing.TB, tenant string) *Issuer {
	t.Helper()

	iss := &Issuer{tenant: tenant}
	iss.AddKey(t, IssuerKeyID)

	mux := http.NewServeMux()
	mux.HandleFunc("/"+tenant+"/discovery/v2.0/keys", iss.handleKeys)
	iss.server = httptest.NewTLSServer(mux)
	t.Cleanup(iss.server.Close)
	return iss
}

// Host returns the server's host:port, usable as an authority host.
func (i *Issuer) Host() string {
	u, _ := url.Parse(i.server.URL)
	return u.Host
}

// Tenant returns the tenant id the issuer was created with.
func (i *Issuer) Tenant() string { return i.tenant }

// IssuerURL returns the iss value tokens from this issuer carry.
func (i *Issuer) IssuerURL() string {
	return i.server.URL + "/" + i.tenant + "/v2.0"
}

// JWKSURL returns the key-set endpoint.
func (i *Issuer) JWKSURL() string {
	return i.server.URL + "/" + i.tenant + "/discovery/v2.0/keys"
}

// Client returns an HTTP client that trusts the server's certificate.
func (i *Issuer) Client() *http.Client { return i.server.Client() }

// Fetches returns how many key-set requests the server has received.
func (i *Issuer) Fetches() int { return int(i.fetches.Load()) }

// AddKey generates a new signing key and publishes it alongside the existing
// ones. Tokens signed by [Issuer.Sign] use the most recently added key.
func (i *Issuer) AddKey(t testing.TB, kid string) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")

	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys = append(i.keys, issuerKey{kid: kid, priv: priv})
	return priv
}

// RotateKey replaces every published key with a single new key.
func (i *Issuer) RotateKey(t testing.TB, kid string) {
	t.Helper()
	i.mu.Lock()
	i.keys = nil
	i.mu.Unlock()
	i.AddKey(t, kid)
}

// FailNext makes the next n key-set requests answer with status.
func (i *Issuer) FailNext(n, status int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failNext = n
	i.failStatus = status
}

// ServeBody makes the key-set endpoint answer 200 with raw instead of the
// real key set. A nil raw restores normal behavior.
func (i *Issuer) ServeBody(raw []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.body = raw
}

// SetDelay delays every key-set response by d.
func (i *Issuer) SetDelay(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.delay = d
}

// Claims returns a valid claim set for audience: correct iss, an hour of
// lifetime, and a subject.
func (i *Issuer) Claims(audience string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": i.IssuerURL(),
		"aud": audience,
		"sub": "user-123",
		"tid": i.tenant,
		"iat": now.Unix(),
		"nbf": now.Add(-time.Minute).Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// Sign signs claims with the most recently added key.
func (i *Issuer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	i.mu.Lock()
	k := i.keys[len(i.keys)-1]
	i.mu.Unlock()
	return SignRS256(t, k.priv, k.kid, claims)
}

// SignRS256 signs claims with priv, setting kid in the header when non-empty.
func SignRS256(t testing.TB, priv *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(priv)
	require.NoError(t, err, "failed to sign token")
	return signed
}

// JWK returns the public half of priv as a key-set entry.
func JWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func (i *Issuer) handleKeys(w http.ResponseWriter, _ *http.Request) {
	i.fetches.Add(1)

	i.mu.Lock()
	delay := i.delay
	status := 0
	if i.failNext > 0 {
		i.failNext--
		status = i.failStatus
	}
	body := i.body
	keys := make([]map[string]any, 0, len(i.keys))
	for _, k := range i.keys {
		keys = append(keys, JWK(k.kid, &k.priv.PublicKey))
	}
	i.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if body != nil {
		_, _ = w.Write(body)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
}
