package dedup

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var (
	// ErrMalformedHost marks a host that cannot be split into labels or
	// resolved against the public suffix list.
	ErrMalformedHost = errors.New("malformed host")
	// ErrDelimiterCount marks a host with a dot count outside 1..3.
	ErrDelimiterCount = errors.New("unsupported delimiter count")
)

// Key is the canonical site identity a host is grouped under.
type Key string

// HostError reports a host that was excluded from grouping.
type HostError struct {
	Host string
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host %q: %v", e.Host, e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// Delimiters returns the number of '.' separators in host.
func Delimiters(host string) int {
	return strings.Count(host, ".")
}

// Classify derives the domain key of host.
//
//	a.b         -> a
//	a.b.c       -> a    when b.c is the registrable domain
//	a.b.c       -> a.b  when b.c is itself a public suffix (e.g. a.co.uk)
//	a.b.c.d     -> a.b
func Classify(host string) (Key, error) {
	key, err := classify(host)
	if err != nil {
		return "", err
	}
	return key, nil
}

func classify(host string) (Key, *HostError) {
	labels := strings.Split(host, ".")
	for _, label := range labels {
		if !validLabel(label) {
			return "", &HostError{Host: host, Err: ErrMalformedHost}
		}
	}

	switch len(labels) - 1 {
	case 1:
		return Key(labels[0]), nil
	case 2:
		registrable, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(host))
		if err != nil {
			return "", &HostError{Host: host, Err: fmt.Errorf("%w: %w", ErrMalformedHost, err)}
		}
		if Delimiters(registrable) == 1 {
			return Key(labels[0]), nil
		}
		return Key(labels[0] + "." + labels[1]), nil
	case 3:
		return Key(labels[0] + "." + labels[1]), nil
	default:
		return "", &HostError{
			Host: host,
			Err:  fmt.Errorf("%w: %d", ErrDelimiterCount, len(labels)-1),
		}
	}
}

func validLabel(label string) bool {
	if label == "" {
		return false
	}
	return !strings.ContainsAny(label, " \t\r\n/\\:@?#")
}
