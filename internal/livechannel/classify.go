package livechannel

import (
	"net/http"
	"regexp"
	"strings"
)

// authFailurePattern matches whole words that identify a rejected
// credential in a transport reason. Status codes count only as standalone
// tokens, so "403" inside a port number does not match.
var authFailurePattern = regexp.MustCompile(
	`(?i)(?:^|[^a-z0-9])(?:401|403|unauthori[sz]ed|forbidden|authentication failed|invalid token|token expired|jwt|credentials?)(?:$|[^a-z0-9])`,
)

// isAuthStatus reports whether an HTTP status rejects the credential.
func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// isAuthFailure reports whether a transport reason describes a rejected
// credential rather than a connectivity problem. Network addresses and URLs
// are removed before matching.
func isAuthFailure(reason string) bool {
	return authFailurePattern.MatchString(stripAddresses(reason))
}

// stripAddresses drops the fields of reason that name an endpoint:
// anything containing "://", a dotted host or a host:port pair.
func stripAddresses(reason string) string {
	fields := strings.Fields(reason)
	kept := fields[:0]
	for _, f := range fields {
		if isAddressField(f) {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func isAddressField(f string) bool {
	f = strings.Trim(f, `"'()[],;`)
	f = strings.TrimSuffix(f, ":")
	if strings.Contains(f, "://") {
		return true
	}
	if strings.Contains(f, ".") && !strings.HasSuffix(f, ".") {
		return true
	}
	i := strings.LastIndexByte(f, ':')
	if i < 0 || i == len(f)-1 {
		return false
	}
	for _, r := range f[i+1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
