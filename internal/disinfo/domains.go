package disinfo

import "regexp"

// Domain sets are keyed by normalized hostname (lowercase, no www prefix).
// Satire detection is a set lookup, not a heuristic: a satire site is not
// disinformation per se, but its content must never enter the ledger as news.

var satireDomains = map[string]bool{
	"theonion.com":              true,
	"babylonbee.com":            true,
	"clickhole.com":             true,
	"thebeaverton.com":          true,
	"newsthump.com":             true,
	"waterfordwhispersnews.com": true,
	"legorafi.fr":               true, // French satire
	"nordpresse.be":             true,
}

var disinfoDomains = map[string]bool{
	"naturalnews.com":   true,
	"infowars.com":      true,
	"beforeitsnews.com": true,
	"worldtruth.tv":     true,
	"yournewswire.com":  true,
	"realrawnews.com":   true,
}

var factCheckerDomains = map[string]bool{
	"snopes.com":     true,
	"factcheck.org":  true,
	"politifact.com": true,
	"fullfact.org":   true,
	"apnews.com":     true,
	"reuters.com":    true,
	"afp.com":        true,
}

// suspiciousHostRe matches host shapes typical of throwaway disinfo mills:
// digit-stuffed news domains and cheap keyword TLD combinations.
var suspiciousHostRe = regexp.MustCompile(`(news|truth|patriot|freedom|real)[-.]?(24|365|tv|web|now)\.|(\.tk|\.ml|\.ga|\.cf)$|\d{4,}`)
