package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Voice-ly/voice.ly-backend/internal/common"
)

// Identity is what a verified federated ID token tells us about the caller.
type Identity struct {
	UID   string
	Email string
	Name  string
}

type firebaseClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// FirebaseVerifier checks RS256 ID tokens minted by Firebase Authentication
// for one project. Signing certificates are fetched from certsURL and cached
// for as long as the response's Cache-Control max-age allows.
type FirebaseVerifier struct {
	projectID string
	certsURL  string
	client    *http.Client

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
	fetched time.Time
	now     func() time.Time
}

// minRefetch bounds how often an unknown kid may trigger a fetch while the
// cached set is still valid.
const minRefetch = time.Minute

func NewFirebaseVerifier(projectID, certsURL string, client *http.Client) *FirebaseVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FirebaseVerifier{projectID: projectID, certsURL: certsURL, client: client, now: time.Now}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	if v.projectID == "" {
		return Identity{}, fmt.Errorf("%w: FIREBASE_PROJECT_ID is not set", common.ErrMisconfigured)
	}
	if idToken == "" {
		return Identity{}, fmt.Errorf("%w: idToken is required", common.ErrInvalidInput)
	}

	tok, err := jwt.ParseWithClaims(idToken, &firebaseClaims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrBadToken
		}
		return v.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", common.ErrUnauthenticated, err)
	}
	c, ok := tok.Claims.(*firebaseClaims)
	if !ok || c.Subject == "" || c.Email == "" {
		return Identity{}, fmt.Errorf("%w: token carries no email", common.ErrUnauthenticated)
	}
	return Identity{UID: c.Subject, Email: c.Email, Name: c.Name}, nil
}

func (v *FirebaseVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	fresh := now.Before(v.expires)
	if k, ok := v.keys[kid]; ok && fresh {
		return k, nil
	}
	if fresh && now.Sub(v.fetched) < minRefetch {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	keys, ttl, err := v.fetch(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.expires = now.Add(ttl)
	v.fetched = now

	k, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return k, nil
}

var maxAgeRe = regexp.MustCompile(`max-age=(\d+)`)

func (v *FirebaseVerifier) fetch(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch certs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetch certs: status %d", resp.StatusCode)
	}

	var pems map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&pems); err != nil {
		return nil, 0, fmt.Errorf("decode certs: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(pems))
	for kid, p := range pems {
		k, err := parseCertKey(p)
		if err != nil {
			return nil, 0, fmt.Errorf("cert %s: %w", kid, err)
		}
		keys[kid] = k
	}

	ttl := time.Hour
	if m := maxAgeRe.FindStringSubmatch(resp.Header.Get("Cache-Control")); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			ttl = time.Duration(secs) * time.Second
		}
	}
	return keys, ttl, nil
}

func parseCertKey(p string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(p))
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	k, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an rsa key")
	}
	return k, nil
}
