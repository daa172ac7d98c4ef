package access

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Headers set by the SSO proxy in front of the service.
const (
	HeaderSubject = "X-Auth-Subject"
	HeaderRoles   = "X-Auth-Roles"
)

// Resolver derives an Identity from a request: a matching bearer API key
// maps to a service identity with the configured roles, and, when
// TrustProxyHeaders is set, the SSO proxy's subject and role headers are
// accepted as-is.
type Resolver struct {
	APIKey            string
	APIKeyRoles       []string
	TrustProxyHeaders bool
}

// Resolve returns the caller's identity, or nil for anonymous requests.
func (r Resolver) Resolve(req *http.Request) *Identity {
	if r.APIKey != "" {
		auth := req.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			if subtle.ConstantTimeCompare([]byte(token), []byte(r.APIKey)) == 1 {
				return &Identity{Subject: "api-key", Roles: append([]string{}, r.APIKeyRoles...)}
			}
		}
	}

	if r.TrustProxyHeaders {
		if subject := strings.TrimSpace(req.Header.Get(HeaderSubject)); subject != "" {
			return &Identity{Subject: subject, Roles: parseCSV(req.Header.Get(HeaderRoles))}
		}
	}
	return nil
}

func parseCSV(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
