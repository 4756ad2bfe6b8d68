package operator

import (
    "crypto/rsa"
    "encoding/base64"
    "errors"
    "fmt"
    "net/http"
    "strings"

    "github.com/golang-jwt/jwt"
)

var ErrMissingBearerToken = errors.New("missing bearer token")

// Authenticator validates RS256 bearer tokens issued by the auth service.
type Authenticator struct {
    publicKey *rsa.PublicKey
}

// NewAuthenticator parses the auth service public key, given as a base64
// encoded PEM block.
func NewAuthenticator(base64PubKey string) (*Authenticator, error) {
    pemKey, err := base64.StdEncoding.DecodeString(base64PubKey)
    if err != nil {
        return nil, fmt.Errorf("decoding auth public key: %w", err)
    }
    publicKey, err := jwt.ParseRSAPublicKeyFromPEM(pemKey)
    if err != nil {
        return nil, fmt.Errorf("parsing auth public key: %w", err)
    }
    return &Authenticator{publicKey: publicKey}, nil
}

// Authenticate returns the subject of the token carried by r.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
    header := r.Header.Get("Authorization")
    rawToken, found := strings.CutPrefix(header, "Bearer ")
    if !found || rawToken == "" {
        return "", ErrMissingBearerToken
    }

    claims := &jwt.StandardClaims{}
    token, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
        if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
            return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
        }
        return a.publicKey, nil
    })
    if err != nil {
        return "", fmt.Errorf("invalid bearer token: %w", err)
    }
    if !token.Valid {
        return "", errors.New("invalid bearer token")
    }
    return claims.Subject, nil
}
