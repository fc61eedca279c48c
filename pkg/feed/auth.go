package feed

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthType represents the authentication method
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeLegacy AuthType = "legacy"
	AuthTypeJWT    AuthType = "jwt"
)

// Authenticator signs outgoing feed requests.
type Authenticator interface {
	AddAuthHeaders(req *http.Request, method, path, body string) error
}

// NoAuth leaves requests untouched, for public feeds.
type NoAuth struct{}

func (NoAuth) AddAuthHeaders(*http.Request, string, string, string) error { return nil }

// LegacyAuthenticator signs with an API key, HMAC secret and passphrase.
type LegacyAuthenticator struct {
	apiKey     string
	apiSecret  string
	passphrase string
}

func NewLegacyAuthenticator(apiKey, apiSecret, passphrase string) *LegacyAuthenticator {
	return &LegacyAuthenticator{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
	}
}

func (l *LegacyAuthenticator) AddAuthHeaders(req *http.Request, method, path, body string) error {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("FEED-ACCESS-KEY", l.apiKey)
	req.Header.Set("FEED-ACCESS-SIGN", l.Sign(timestamp+method+path+body))
	req.Header.Set("FEED-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("FEED-ACCESS-PASSPHRASE", l.passphrase)
	return nil
}

// Sign returns the base64 HMAC-SHA256 of message under the API secret.
func (l *LegacyAuthenticator) Sign(message string) string {
	return computeHMAC(message, l.apiSecret)
}

func computeHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// JWTAuthenticator signs a short-lived ES256 bearer token per request.
type JWTAuthenticator struct {
	apiKeyName string
	privateKey *ecdsa.PrivateKey
}

func NewJWTAuthenticator(apiKeyName, privateKeyPEM string) (*JWTAuthenticator, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS8 format
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %w", err)
		}
		var ok bool
		privateKey, ok = key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an EC private key")
		}
	}

	return &JWTAuthenticator{
		apiKeyName: apiKeyName,
		privateKey: privateKey,
	}, nil
}

func (j *JWTAuthenticator) AddAuthHeaders(req *http.Request, method, path, body string) error {
	token, err := j.GenerateJWT(method, req.URL.Host, path)
	if err != nil {
		return fmt.Errorf("failed to generate JWT: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// GenerateJWT returns a token valid for two minutes bound to one request URI.
func (j *JWTAuthenticator) GenerateJWT(method, host, path string) (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   j.apiKeyName,
		"iss":   "statarb-feed",
		"nbf":   now.Unix(),
		"exp":   now.Add(2 * time.Minute).Unix(),
		"uri":   method + " " + host + path,
		"nonce": nonce,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = j.apiKeyName
	token.Header["nonce"] = nonce

	tokenString, err := token.SignedString(j.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewAuthenticator picks the authenticator for authType.
func NewAuthenticator(authType AuthType, cfg Credentials) (Authenticator, error) {
	switch authType {
	case AuthTypeNone, "":
		return NoAuth{}, nil
	case AuthTypeLegacy:
		return NewLegacyAuthenticator(cfg.APIKey, cfg.APISecret, cfg.Passphrase), nil
	case AuthTypeJWT:
		return NewJWTAuthenticator(cfg.APIKeyName, cfg.PrivateKeyPEM)
	default:
		return nil, fmt.Errorf("unknown feed auth type %q", authType)
	}
}

// Credentials for either authentication method.
type Credentials struct {
	APIKey        string
	APISecret     string
	Passphrase    string
	APIKeyName    string
	PrivateKeyPEM string
}
