package fetcher

import (
	"math/rand"
	"sync/atomic"
)

// Identity is one browser fingerprint the fetcher presents upstream.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Platform       string // Sec-Ch-Ua-Platform value
}

// identities are realistic desktop browser profiles. Rotating across them
// per request reduces fingerprinting by the upstream site.
var identities = []Identity{
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage: "de-DE,de;q=0.9,en-US;q=0.6,en;q=0.4",
		Platform:       `"macOS"`,
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		AcceptLanguage: "de-DE,de;q=0.8,en-US;q=0.5,en;q=0.3",
		Platform:       `"Windows"`,
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
		AcceptLanguage: "de-DE,de;q=0.9,en;q=0.5",
		Platform:       `"Linux"`,
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:132.0) Gecko/20100101 Firefox/132.0",
		AcceptLanguage: "de,en-US;q=0.7,en;q=0.3",
		Platform:       `"macOS"`,
	},
}

// identityRotor hands out identities round-robin from a random start so
// restarts don't always lead with the same fingerprint.
type identityRotor struct {
	counter atomic.Uint64
}

func newIdentityRotor() *identityRotor {
	r := &identityRotor{}
	r.counter.Store(rand.Uint64() % uint64(len(identities)))
	return r
}

func (r *identityRotor) next() Identity {
	n := r.counter.Add(1)
	return identities[n%uint64(len(identities))]
}
