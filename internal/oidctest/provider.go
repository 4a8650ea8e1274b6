// Package oidctest runs an in-process Auth0-style identity provider for tests:
// JWKS, token endpoint and RS256-signed ID and access tokens.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeyID is the kid of the provider's first signing key
const KeyID = "test-key"

// Provider is a fake identity provider backed by httptest.Server
type Provider struct {
	URL      string
	ClientID string
	Audience string

	server *httptest.Server

	mu          sync.Mutex
	key         *rsa.PrivateKey
	kid         string
	rotations   int
	subject     string
	email       string
	nonce       string
	tokenStatus int
	tokenForms  []url.Values
	jwksHits    int
}

// NewProvider starts a provider and registers its shutdown with t.Cleanup
func NewProvider(t *testing.T, clientID, audience string) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	p := &Provider{
		ClientID:    clientID,
		Audience:    audience,
		key:         key,
		kid:         KeyID,
		subject:     "auth0|1234567890",
		email:       "user@example.com",
		tokenStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", p.handleJWKS)
	mux.HandleFunc("/oauth/token", p.handleToken)
	p.server = httptest.NewServer(mux)
	p.URL = p.server.URL
	t.Cleanup(p.server.Close)

	return p
}

// Issuer returns the issuer claim the provider puts in its tokens
func (p *Provider) Issuer() string {
	return p.URL + "/"
}

// SetSubject changes the sub claim of subsequently issued tokens
func (p *Provider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetNonce sets the nonce echoed in the next ID token
func (p *Provider) SetNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonce = nonce
}

// FailTokenRequests makes the token endpoint answer with status
func (p *Provider) FailTokenRequests(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
}

// TokenRequests returns the form bodies posted to the token endpoint
func (p *Provider) TokenRequests() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.tokenForms...)
}

// RotateKey replaces the signing key. The JWKS serves only the new key, so
// tokens signed before the rotation stop verifying once a validator refetches.
func (p *Provider) RotateKey(t *testing.T) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotations++
	p.key = key
	p.kid = KeyID + "-" + strconv.Itoa(p.rotations)
}

// JWKSHits returns how many times the key set was fetched
func (p *Provider) JWKSHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jwksHits
}

// AccessToken mints an access token for the provider's audience
func (p *Provider) AccessToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	p.mu.Lock()
	sub := p.subject
	p.mu.Unlock()

	now := time.Now()
	return p.sign(t, jwt.MapClaims{
		"iss":   p.Issuer(),
		"sub":   sub,
		"aud":   []string{p.Audience, p.Issuer() + "userinfo"},
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
		"scope": "openid profile email",
		"azp":   p.ClientID,
	})
}

// Sign signs arbitrary claims with the provider key
func (p *Provider) Sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	return p.sign(t, claims)
}

func (p *Provider) sign(t *testing.T, claims jwt.MapClaims) string {
	signed, err := p.signClaims(claims)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// signClaims signs with the current key under its kid
func (p *Provider) signClaims(claims jwt.MapClaims) (string, error) {
	p.mu.Lock()
	key, kid := p.key, p.kid
	p.mu.Unlock()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (p *Provider) idToken(nonce, sub, email string) (string, error) {
	now := time.Now()
	return p.signClaims(jwt.MapClaims{
		"iss":   p.Issuer(),
		"sub":   sub,
		"aud":   p.ClientID,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"nonce": nonce,
		"email": email,
		"name":  "Test User",
	})
}

func (p *Provider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.jwksHits++
	pub, kid := p.key.PublicKey, p.kid
	p.mu.Unlock()

	body := map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.tokenForms = append(p.tokenForms, r.PostForm)
	status := p.tokenStatus
	nonce, sub, email := p.nonce, p.subject, p.email
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid authorization code"}`))
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code_verifier") == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
		return
	}

	idToken, err := p.idToken(nonce, sub, email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now()
	accessToken, err := p.signClaims(jwt.MapClaims{
		"iss":   p.Issuer(),
		"sub":   sub,
		"aud":   []string{p.Audience, p.Issuer() + "userinfo"},
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"scope": "openid profile email",
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": accessToken,
		"id_token":     idToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        "openid profile email",
	})
}
