package collyfetcher

import (
	"fmt"
	"math/rand/v2"
)

const spoofedUserAgentFormat = "Mozilla/5.0 (compatible; MSIE 8.0; Windows NT 5.1; SV1) Chrome/%.2f.2924.87 Safari/537.36"

// SpoofedUserAgent returns a browser-like User-Agent whose Chrome version is
// drawn from [20.01, 101.00]. Callers pick it once per run.
func SpoofedUserAgent(r *rand.Rand) string {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	version := float64(20+r.IntN(81)) + float64(1+r.IntN(100))/100
	return fmt.Sprintf(spoofedUserAgentFormat, version)
}
