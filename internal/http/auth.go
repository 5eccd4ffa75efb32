package http

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/capacity-bookings/internal/domain"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type actorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator turns bearer tokens into actors. Without a public key it
// trusts the X-Actor-ID and X-Actor-Role headers, which is only meant for
// local development.
type Authenticator struct {
	key *rsa.PublicKey
}

func NewAuthenticator(publicKeyPEM string) (*Authenticator, error) {
	if publicKeyPEM == "" {
		return &Authenticator{}, nil
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, errors.Wrap(err, "parse JWT public key")
	}
	return &Authenticator{key: key}, nil
}

// Middleware attaches the caller's actor to the request context. Requests
// without credentials continue anonymously; handlers decide whether that is
// acceptable.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok, err := a.authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error(), Code: "unauthorized"})
			return
		}
		if ok {
			r = r.WithContext(context.WithValue(r.Context(), actorKey, actor))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) authenticate(r *http.Request) (domain.Actor, bool, error) {
	if a.key == nil {
		return actorFromHeaders(r)
	}
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return domain.Actor{}, false, nil
	}
	raw, found := strings.CutPrefix(auth, "Bearer ")
	if !found {
		return domain.Actor{}, false, errors.New("authorization must be a bearer token")
	}

	var claims actorClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, false, errors.Wrap(err, "invalid token")
	}
	actor, err := newActor(claims.Subject, claims.Role)
	return actor, err == nil, err
}

func actorFromHeaders(r *http.Request) (domain.Actor, bool, error) {
	id, role := r.Header.Get(HeaderActorID), r.Header.Get(HeaderActorRole)
	if id == "" && role == "" {
		return domain.Actor{}, false, nil
	}
	if role == "" {
		role = string(domain.RoleCustomer)
	}
	actor, err := newActor(id, role)
	return actor, err == nil, err
}

func newActor(subject, role string) (domain.Actor, error) {
	r, err := domain.ParseRole(role)
	if err != nil {
		return domain.Actor{}, err
	}
	if r == domain.RoleSystem {
		if subject == "" {
			return domain.Actor{}, errors.New("system actors need a subject")
		}
		return domain.System(subject), nil
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return domain.Actor{}, errors.Wrapf(err, "subject %q is not a user id", subject)
	}
	return domain.Actor{ID: id, Role: r}, nil
}

func actorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey).(domain.Actor)
	return a, ok
}
