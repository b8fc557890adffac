package daemon

import (
	"net/http"
	"os"
	"strings"

	"github.com/Nikhilk147/RepoScan/internal/auth"
	"github.com/Nikhilk147/RepoScan/internal/errors"
)

const (
	// AuthHeader is the header name for bearer token authentication
	AuthHeader = "Authorization"

	// AuthScheme is the authentication scheme prefix
	AuthScheme = "Bearer "

	// DaemonTokenEnvVar is the environment variable for the daemon token
	DaemonTokenEnvVar = "REPOSCAN_DAEMON_TOKEN"
)

// withAuth wraps a handler with bearer token authentication
func (d *Daemon) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !d.config.Daemon.Auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		expected := d.expectedCredential()
		if expected == "" {
			d.logger.Warn("auth enabled but no token configured, allowing request", nil)
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(AuthHeader)
		if header == "" {
			d.writeError(w, errors.New(errors.Unauthorized, "missing Authorization header", nil))
			return
		}

		if !strings.HasPrefix(header, AuthScheme) {
			d.writeError(w, errors.New(errors.Unauthorized, "invalid Authorization scheme, expected Bearer", nil))
			return
		}

		provided := strings.TrimPrefix(header, AuthScheme)
		if !credentialMatches(provided, expected) {
			d.writeError(w, errors.New(errors.Unauthorized, "invalid token", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// credentialMatches accepts either a plain token or a bcrypt hash as the
// stored credential. Hash files produced by `reposcan token generate` start
// with the bcrypt version marker.
func credentialMatches(provided, expected string) bool {
	if strings.HasPrefix(expected, "$2") {
		return auth.VerifyToken(provided, expected)
	}
	return provided == expected
}

// expectedCredential resolves the configured token or token hash.
func (d *Daemon) expectedCredential() string {
	if token := d.config.Daemon.Auth.Token; token != "" {
		// ${VAR} references resolve through the environment
		if strings.HasPrefix(token, "${") && strings.HasSuffix(token, "}") {
			return os.Getenv(token[2 : len(token)-1])
		}
		return token
	}

	if path := d.config.Daemon.Auth.TokenFile; path != "" {
		if strings.HasPrefix(path, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				path = home + path[1:]
			}
		}

		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
		d.logger.Warn("failed to read token file", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}

	return os.Getenv(DaemonTokenEnvVar)
}
