// Package disinfo implements the multi-signal disinformation filter applied
// to unverified web content before it may enter the HUGIN branch.
//
// Scoring is layered and additive, capped at 100. Each fired signal records
// an indicator so the final explanation is auditable.
package disinfo

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DetectedType enumerates the disinformation categories the filter flags.
type DetectedType string

const (
	TypeKnownDisinfoSource       DetectedType = "KNOWN_DISINFO_SOURCE"
	TypeSatireAsNews             DetectedType = "SATIRE_AS_NEWS"
	TypeEmotionalManipulation    DetectedType = "EMOTIONAL_MANIPULATION"
	TypeConspiracyNarrative      DetectedType = "CONSPIRACY_NARRATIVE"
	TypeVagueAttribution         DetectedType = "VAGUE_ATTRIBUTION"
	TypeAbsoluteClaim            DetectedType = "ABSOLUTE_CLAIM"
	TypeArtificialUrgency        DetectedType = "ARTIFICIAL_URGENCY"
	TypeScientificMisinformation DetectedType = "SCIENTIFIC_MISINFORMATION"
	TypeFabricatedContent        DetectedType = "FABRICATED_CONTENT"
	TypeOutdatedContent          DetectedType = "OUTDATED_CONTENT"
)

// Severity grades the overall analysis.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Recommendation is the filter's disposition for the content.
type Recommendation string

const (
	RecommendAccept Recommendation = "ACCEPT"
	RecommendReview Recommendation = "REVIEW"
	RecommendFlag   Recommendation = "FLAG"
	RecommendBlock  Recommendation = "BLOCK"
)

// Metadata carries optional content metadata into the temporal layer.
type Metadata struct {
	PublishedAt *time.Time
}

// Analysis is the filter's full output for one piece of content.
type Analysis struct {
	RiskScore      int            `json:"risk_score"` // [0,100]
	DetectedTypes  []DetectedType `json:"detected_types"`
	Severity       Severity       `json:"severity"`
	Indicators     []string       `json:"indicators"`
	Recommendation Recommendation `json:"recommendation"`
	Explanation    string         `json:"explanation"`
	Confidence     int            `json:"confidence"` // [50,95]
}

var (
	emotionalRe  = regexp.MustCompile(`(?i)\b(shocking|outrageous|terrifying|they don't want you to know|wake up|sheeple|unbelievable|horrifying|disgusting)\b`)
	conspiracyRe = regexp.MustCompile(`(?i)\b(deep state|new world order|false flag|cover[- ]?up|globalist|illuminati|chemtrails|plandemic|big pharma (hides|hiding))\b`)
	vagueAttrRe  = regexp.MustCompile(`(?i)\b(sources say|experts claim|people are saying|it is said|some believe|many think|insiders reveal)\b`)
	absoluteRe   = regexp.MustCompile(`(?i)\b(always|never|everyone knows|no one can deny|undeniable proof|100% (proven|certain)|the only truth)\b`)
	urgencyRe    = regexp.MustCompile(`(?i)\b(act now|before it'?s too late|share before deleted|they will delete this|urgent|last chance|time is running out)\b`)
	presentRe    = regexp.MustCompile(`(?i)\b(is happening now|currently|right now|as we speak|breaking)\b`)

	// Topics where flat contradiction of scientific consensus is itself a signal.
	consensusRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(vaccines? cause autism)\b`),
		regexp.MustCompile(`(?i)\b(earth is flat|flat earth is real)\b`),
		regexp.MustCompile(`(?i)\b(climate change is a hoax|global warming is fake)\b`),
		regexp.MustCompile(`(?i)\b(evolution is (a lie|fake|a myth))\b`),
		regexp.MustCompile(`(?i)\b(5g (causes|spreads))\b`),
	}

	sentenceRe = regexp.MustCompile(`[.!?]+`)
)

// Analyze scores (url, content, metadata) through the layered heuristics and
// returns the full analysis. metadata may be nil.
func Analyze(rawURL, content string, metadata *Metadata) Analysis {
	var (
		score      int
		types      []DetectedType
		indicators []string
	)
	addType := func(t DetectedType) {
		for _, existing := range types {
			if existing == t {
				return
			}
		}
		types = append(types, t)
	}

	host := normalizedHost(rawURL)

	// Source layer.
	knownDisinfo := disinfoDomains[host]
	if knownDisinfo {
		score += 50
		addType(TypeKnownDisinfoSource)
		indicators = append(indicators, "KNOWN_DISINFO_DOMAIN")
	}
	satire := satireDomains[host]
	if satire {
		score += 30
		addType(TypeSatireAsNews)
		indicators = append(indicators, "SATIRE_SOURCE")
	}
	if suspiciousHostRe.MatchString(host) {
		score += 15
		indicators = append(indicators, "SUSPICIOUS_DOMAIN_PATTERN")
	}

	// Content layer.
	if n := len(emotionalRe.FindAllString(content, -1)); n > 0 {
		score += min(5*n, 25)
		addType(TypeEmotionalManipulation)
		indicators = append(indicators, fmt.Sprintf("EMOTIONAL_LANGUAGE_x%d", n))
	}
	if n := len(conspiracyRe.FindAllString(content, -1)); n > 0 {
		score += min(10*n, 40)
		addType(TypeConspiracyNarrative)
		indicators = append(indicators, fmt.Sprintf("CONSPIRACY_MARKERS_x%d", n))
	}
	if n := len(vagueAttrRe.FindAllString(content, -1)); n > 2 {
		score += min(3*n, 15)
		addType(TypeVagueAttribution)
		indicators = append(indicators, fmt.Sprintf("VAGUE_ATTRIBUTION_x%d", n))
	}
	if capsRatio(content) > 0.15 {
		score += 10
		indicators = append(indicators, "EXCESSIVE_CAPS")
	}
	if exclamationRatio(content) > 0.3 {
		score += 8
		indicators = append(indicators, "EXCESSIVE_EXCLAMATION")
	}

	// Claims layer.
	if absoluteRe.MatchString(content) {
		score += 15
		addType(TypeAbsoluteClaim)
		indicators = append(indicators, "ABSOLUTE_CLAIM")
	}
	if urgencyRe.MatchString(content) {
		score += 12
		addType(TypeArtificialUrgency)
		indicators = append(indicators, "ARTIFICIAL_URGENCY")
	}

	// Scientific layer: each contradicted consensus topic adds 35.
	for _, re := range consensusRe {
		if re.MatchString(content) {
			score += 35
			addType(TypeScientificMisinformation)
			indicators = append(indicators, "CONSENSUS_CONTRADICTION")
		}
	}

	// Temporal layer: stale content presented as current.
	if metadata != nil && metadata.PublishedAt != nil {
		age := time.Since(*metadata.PublishedAt)
		if age > 365*24*time.Hour && presentRe.MatchString(content) {
			score += 25
			addType(TypeOutdatedContent)
			indicators = append(indicators, "STALE_AS_CURRENT")
		}
	}

	if score > 100 {
		score = 100
	}

	severity := severityFor(score, types)
	rec := recommendationFor(severity, host, knownDisinfo)

	if types == nil {
		types = []DetectedType{}
	}
	if indicators == nil {
		indicators = []string{}
	}

	return Analysis{
		RiskScore:      score,
		DetectedTypes:  types,
		Severity:       severity,
		Indicators:     indicators,
		Recommendation: rec,
		Explanation:    explain(score, indicators),
		Confidence:     min(50+10*len(indicators), 95),
	}
}

// severityFor applies the severity rule: fabricated or scientific
// misinformation forces CRITICAL; otherwise thresholds apply.
func severityFor(score int, types []DetectedType) Severity {
	for _, t := range types {
		if t == TypeFabricatedContent || t == TypeScientificMisinformation {
			return SeverityCritical
		}
	}
	switch {
	case score >= 70:
		return SeverityCritical
	case score >= 45:
		return SeverityHigh
	case score >= 25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func recommendationFor(severity Severity, host string, knownDisinfo bool) Recommendation {
	if knownDisinfo {
		return RecommendBlock
	}
	if factCheckerDomains[host] {
		return RecommendAccept
	}
	switch severity {
	case SeverityCritical:
		return RecommendBlock
	case SeverityHigh:
		return RecommendFlag
	case SeverityMedium:
		return RecommendReview
	default:
		return RecommendAccept
	}
}

func explain(score int, indicators []string) string {
	if len(indicators) == 0 {
		return "no disinformation signals detected"
	}
	return fmt.Sprintf("risk %d from %d signal(s): %s", score, len(indicators), strings.Join(indicators, ", "))
}

// normalizedHost extracts the lowercase hostname without a www prefix.
func normalizedHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		// Tolerate bare hostnames.
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(rawURL)), "www.")
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// capsRatio is the fraction of letters that are uppercase.
func capsRatio(content string) float64 {
	var upper, letters int
	for _, r := range content {
		switch {
		case r >= 'A' && r <= 'Z':
			upper++
			letters++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// exclamationRatio is exclamation marks per sentence.
func exclamationRatio(content string) float64 {
	sentences := len(sentenceRe.FindAllString(content, -1))
	if sentences == 0 {
		return 0
	}
	return float64(strings.Count(content, "!")) / float64(sentences)
}
