package probe

import (
	"bytes"
	"net/http"
	"slices"
	"strings"
)

// Detector examines a probe result and reports the bot-protection vendor
// that challenged or blocked it, if any.
type Detector func(res *Result) (detected bool, source string)

// signature describes one vendor's challenge page. A result matches when
// its status is listed and any header, server or body marker is present.
type signature struct {
	vendor   string
	statuses []int
	server   []string
	headers  []string
	body     [][]byte
	// bodyAll markers must all be present.
	bodyAll [][]byte
}

var signatures = []signature{
	{
		vendor:   "cloudflare",
		statuses: []int{http.StatusForbidden, http.StatusServiceUnavailable},
		server:   []string{"cloudflare"},
		headers:  []string{"Cf-Mitigated"},
		body: [][]byte{
			[]byte("cf-browser-verification"),
			[]byte("cloudflare-nginx"),
			[]byte("cf-turnstile"),
			[]byte("challenges.cloudflare.com"),
			[]byte("Attention Required! | Cloudflare"),
		},
	},
	{
		vendor:   "akamai",
		statuses: []int{http.StatusForbidden},
		server:   []string{"akamai"},
		bodyAll:  [][]byte{[]byte("Reference #"), []byte("Access Denied")},
	},
	{
		vendor:   "datadome",
		statuses: []int{http.StatusForbidden},
		server:   []string{"datadome"},
		headers:  []string{"X-DataDome", "X-DataDome-Response"},
		body:     [][]byte{[]byte("geo.captcha-delivery.com"), []byte("datadome")},
	},
	{
		vendor:   "perimeterx",
		statuses: []int{http.StatusForbidden},
		headers:  []string{"X-Px-Captcha"},
		body: [][]byte{
			[]byte("client.perimeterx.net"),
			[]byte("px-captcha"),
			[]byte("_pxBlock"),
		},
	},
	{
		vendor:   "imperva",
		statuses: []int{http.StatusForbidden, http.StatusOK},
		headers:  []string{"X-Iinfo"},
		body:     [][]byte{[]byte("_Incapsula_Resource"), []byte("Incapsula incident ID")},
	},
	{
		vendor:   "sucuri",
		statuses: []int{http.StatusForbidden},
		server:   []string{"sucuri"},
		headers:  []string{"X-Sucuri-Block"},
		body:     [][]byte{[]byte("Sucuri WebSite Firewall")},
	},
}

func (s signature) detector() Detector {
	return func(res *Result) (bool, string) {
		if !slices.Contains(s.statuses, res.StatusCode) {
			return false, ""
		}

		server := strings.ToLower(res.Headers.Get("Server"))
		for _, m := range s.server {
			if strings.Contains(server, m) {
				return true, s.vendor
			}
		}
		for _, h := range s.headers {
			if res.Headers.Get(h) != "" {
				return true, s.vendor
			}
		}
		for _, m := range s.body {
			if bytes.Contains(res.Body, m) {
				return true, s.vendor
			}
		}
		if len(s.bodyAll) > 0 {
			for _, m := range s.bodyAll {
				if !bytes.Contains(res.Body, m) {
					return false, ""
				}
			}
			return true, s.vendor
		}
		return false, ""
	}
}

// DefaultDetectors returns the detectors for every known vendor.
func DefaultDetectors() []Detector {
	out := make([]Detector, 0, len(signatures))
	for _, s := range signatures {
		out = append(out, s.detector())
	}
	return out
}

// Analyze runs res through detectors and records the first match on res.
func Analyze(res *Result, detectors []Detector) bool {
	if res == nil {
		return false
	}
	for _, d := range detectors {
		if detected, source := d(res); detected {
			res.DetectedBot = true
			res.DetectionSrc = source
			return true
		}
	}
	res.DetectedBot = false
	res.DetectionSrc = ""
	return false
}
