package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	utls "github.com/refraction-networking/utls"
)

// Profile names the TLS ClientHello the probe presents.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard go TLS
	ProfileRandom  Profile = "random" // randomized uTLS profile
)

func (p Profile) helloID() (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedALPN, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("probe: unknown tls profile %q", p)
	}
}

// ParseProfile validates a profile name. Empty means ProfileChrome.
func ParseProfile(s string) (Profile, error) {
	p := Profile(s)
	if p == "" {
		return ProfileChrome, nil
	}
	if p == ProfileGo {
		return p, nil
	}
	if _, err := p.helloID(); err != nil {
		return "", err
	}
	return p, nil
}

// Transport returns a RoundTripper whose TLS handshake mimics profile p.
// ProfileGo returns a plain clone of http.DefaultTransport. insecure skips
// certificate verification, which some long-tail hosts need to be probed
// at all.
func Transport(p Profile, insecure bool) (http.RoundTripper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if p == ProfileGo {
		if insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		return transport, nil
	}

	helloID, err := p.helloID()
	if err != nil {
		return nil, err
	}

	dial := transport.DialContext
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		uConn, err := dialHello(tcpConn, host, helloID, insecure)
		if err != nil {
			_ = tcpConn.Close()
			return nil, err
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("probe: utls handshake failed: %w", err)
		}
		if proto := uConn.ConnectionState().NegotiatedProtocol; proto == "h2" {
			_ = uConn.Close()
			return nil, fmt.Errorf("probe: %s negotiated h2, fingerprinted transport speaks http/1.1 only", host)
		}
		return uConn, nil
	}

	return transport, nil
}

// dialHello wraps conn in a uTLS client for helloID with ALPN pinned to
// http/1.1, since http.Transport only speaks h2 over *tls.Conn. Randomized
// profiles have no static spec and keep their own ALPN list.
func dialHello(conn net.Conn, host string, helloID utls.ClientHelloID, insecure bool) (*utls.UConn, error) {
	cfg := &utls.Config{ServerName: host, InsecureSkipVerify: insecure}

	spec, err := utls.UTLSIdToSpec(helloID)
	if err != nil {
		return utls.UClient(conn, cfg, helloID), nil
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	uConn := utls.UClient(conn, cfg, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("probe: apply %s preset: %w", helloID.Str(), err)
	}
	return uConn, nil
}
