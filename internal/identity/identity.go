package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	// ActorHeader carries the reviewer name when no identity provider is configured.
	ActorHeader = "X-Actor"
	Anonymous   = "anonymous"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Identity struct {
	Subject  string `json:"sub"`
	Username string `json:"preferred_username,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Actor is the name recorded in audit entries.
func (i Identity) Actor() string {
	switch {
	case i.Username != "":
		return i.Username
	case i.Email != "":
		return i.Email
	case i.Subject != "":
		return i.Subject
	default:
		return Anonymous
	}
}

type Verifier interface {
	Verify(r *http.Request) (Identity, error)
}

// OIDCVerifier validates bearer ID tokens issued for one client.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider %s: %w", issuer, err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

func NewOIDCVerifierFrom(v *oidc.IDTokenVerifier) *OIDCVerifier {
	return &OIDCVerifier{verifier: v}
}

func (v *OIDCVerifier) Verify(r *http.Request) (Identity, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	token, err := v.verifier.Verify(r.Context(), raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	var id Identity
	if err := token.Claims(&id); err != nil {
		return Identity{}, fmt.Errorf("%w: decode claims: %v", ErrUnauthenticated, err)
	}
	if id.Subject == "" {
		id.Subject = token.Subject
	}
	return id, nil
}

// HeaderVerifier trusts the X-Actor header. Requests without it resolve to
// Anonymous unless Required is set.
type HeaderVerifier struct {
	Required bool
}

func (v HeaderVerifier) Verify(r *http.Request) (Identity, error) {
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		if v.Required {
			return Identity{}, ErrUnauthenticated
		}
		return Identity{Subject: Anonymous}, nil
	}
	return Identity{Subject: actor, Username: actor}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// ActorFrom returns the actor for the request context, or Anonymous.
func ActorFrom(ctx context.Context) string {
	id, ok := FromContext(ctx)
	if !ok {
		return Anonymous
	}
	return id.Actor()
}

// Middleware rejects requests the verifier does not accept with 401.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="legal-intake"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthenticated"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
