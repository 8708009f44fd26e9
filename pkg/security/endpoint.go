package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsafeEndpoint = errors.New("unsafe endpoint")

// EndpointPolicy configures which chat endpoints a transport may talk to.
type EndpointPolicy struct {
	// AllowHTTP permits plain HTTP endpoints. HTTPS is always allowed.
	AllowHTTP bool
	// AllowLocalNetworks permits loopback, private and link-local targets and
	// localhost hostnames.
	AllowLocalNetworks bool
}

// ValidateEndpoint checks rawURL against the policy. IP literals are checked
// without DNS lookups; hostnames are only checked by name.
func ValidateEndpoint(rawURL string, policy EndpointPolicy) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(ErrUnsafeEndpoint, err.Error())
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !policy.AllowHTTP {
			return errors.Wrapf(ErrUnsafeEndpoint, "http endpoint %s", rawURL)
		}
	default:
		return errors.Wrapf(ErrUnsafeEndpoint, "unsupported scheme %q", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.Wrap(ErrUnsafeEndpoint, "endpoint has no host")
	}

	if !policy.AllowLocalNetworks {
		if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
			return errors.Wrapf(ErrUnsafeEndpoint, "local hostname %q", host)
		}
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if addr.Zone() != "" && !policy.AllowLocalNetworks {
		return errors.Wrapf(ErrUnsafeEndpoint, "zoned address %q", host)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return errors.Wrapf(ErrUnsafeEndpoint, "address %q", host)
	}
	if !policy.AllowLocalNetworks &&
		(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()) {
		return errors.Wrapf(ErrUnsafeEndpoint, "local network address %q", host)
	}
	return nil
}
