// Package env enumerates the API environments a client can talk to and
// maps each one to its hostname and versioned base URL.
package env

import (
	"fmt"
	"os"
	"strings"
)

// APIVersion is the path prefix shared by every endpoint.
const APIVersion = "v1"

// Environment selects which deployment of the file API to talk to.
type Environment string

const (
	Prod   Environment = "prod"
	Alt    Environment = "alt"
	Test   Environment = "test"
	ECProd Environment = "ec-prod"
	ECTest Environment = "ec-test"
	Dev    Environment = "dev"
)

// All lists every valid environment, in display order.
var All = []Environment{Prod, Alt, Test, ECProd, ECTest, Dev}

var hostnames = map[Environment]string{
	Prod:   "api.tsd.usit.no",
	Alt:    "alt.api.tsd.usit.no",
	Test:   "test.api.tsd.usit.no",
	ECProd: "api.fp.educloud.no",
	ECTest: "test.api.fp.educloud.no",
	Dev:    "localhost:3003",
}

// Parse converts a user-supplied string into an Environment.
// Underscore spellings (ec_prod) are accepted for compatibility.
func Parse(s string) (Environment, error) {
	e := Environment(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if _, ok := hostnames[e]; !ok {
		return "", fmt.Errorf("env: unrecognized environment %q", s)
	}

	return e, nil
}

func (e Environment) String() string {
	return string(e)
}

// Hostname returns the API host (and port, for dev) for the environment.
func (e Environment) Hostname() string {
	return hostnames[e]
}

// Scheme is https everywhere except the local dev server.
func (e Environment) Scheme() string {
	if e == Dev {
		return "http"
	}

	return "https"
}

// BaseURL returns the versioned API root, e.g. https://api.tsd.usit.no/v1.
func (e Environment) BaseURL() string {
	return fmt.Sprintf("%s://%s/%s", e.Scheme(), e.Hostname(), APIVersion)
}

// Educloud reports whether the environment uses the educloud identity
// provider, which changes the credential-exchange endpoint.
func (e Environment) Educloud() bool {
	return e == ECProd || e == ECTest
}

// TokenKind qualifies an import/export token kind for the environment.
// The alt environment issues its own token kinds (import-alt, export-alt).
func (e Environment) TokenKind(base string) string {
	if e == Alt {
		return base + "-alt"
	}

	return base
}

// DefaultGroup is the member group that owns uploads when the caller does
// not name one.
func DefaultGroup(pnum string) string {
	return pnum + "-member-group"
}

// ProxyConfigured reports whether an HTTPS proxy is set in the process
// environment. The connectivity probe is skipped when it is, since the
// probe would test the proxy rather than the API.
func ProxyConfigured() bool {
	return os.Getenv("https_proxy") != "" || os.Getenv("HTTPS_PROXY") != ""
}
