// Package classifier implements Ratatosk, the query classifier.
//
// Classification is a pure function over the query text: no I/O, no state.
// The pattern catalog is bilingual (English and French) because the original
// deployment serves both languages.
package classifier

import (
	"regexp"
	"strings"
)

// QueryType categorizes the intent of a query.
type QueryType string

const (
	TypeFactual        QueryType = "factual"
	TypeResearch       QueryType = "research"
	TypeTheoretical    QueryType = "theoretical"
	TypeCreative       QueryType = "creative"
	TypeCurrentEvents  QueryType = "current_events"
	TypeProcedural     QueryType = "procedural"
	TypeConversational QueryType = "conversational"
	TypeUnknown        QueryType = "unknown"
)

// Domain categorizes the knowledge domain of a query.
type Domain string

const (
	DomainScience     Domain = "science"
	DomainMathematics Domain = "mathematics"
	DomainHistory     Domain = "history"
	DomainTechnology  Domain = "technology"
	DomainMedicine    Domain = "medicine"
	DomainLaw         Domain = "law"
	DomainPhilosophy  Domain = "philosophy"
	DomainCreative    Domain = "creative"
	DomainLogic       Domain = "logic"
	DomainGeneral     Domain = "general"
	DomainUnknown     Domain = "unknown"
)

// Complexity grades how much deliberation a query likely needs.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Classification is the classifier's full output.
type Classification struct {
	Type                    QueryType  `json:"type"`
	Domain                  Domain     `json:"domain"`
	Complexity              Complexity `json:"complexity"`
	RequiresVerification    bool       `json:"requires_verification"`
	RequiresRealtime        bool       `json:"requires_realtime"`
	RequiresMultipleSources bool       `json:"requires_multiple_sources"`
	Controversial           bool       `json:"controversial"`
	Keywords                []string   `json:"keywords"`
	Confidence              float64    `json:"confidence"`
}

var (
	conversationalRe = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|bye|goodbye|salut|bonjour|bonsoir|merci|au revoir|ça va|ca va|comment vas[- ]tu)\b`)

	typePatterns = []struct {
		t  QueryType
		re *regexp.Regexp
	}{
		{TypeCurrentEvents, regexp.MustCompile(`(?i)\b(today|latest|news|currently|right now|this (week|month|year)|aujourd'hui|actualité|actualites|dernières|en ce moment|récemment|recemment)\b`)},
		{TypeProcedural, regexp.MustCompile(`(?i)\b(how (do|to|can) i|step[- ]by[- ]step|instructions|tutorial|comment (faire|puis-je|installer|configurer)|étapes|etapes)\b`)},
		{TypeResearch, regexp.MustCompile(`(?i)\b(research|study|studies|evidence|literature|peer[- ]reviewed|meta[- ]analysis|recherche|étude|etude|preuves|publication)\b`)},
		{TypeTheoretical, regexp.MustCompile(`(?i)\b(theory|theoretical|hypothesis|hypothetical|what if|in principle|théorie|theorie|hypothèse|hypothese|et si)\b`)},
		{TypeCreative, regexp.MustCompile(`(?i)\b(write (me )?(a|an)|poem|story|imagine|invent|compose|écris|ecris|poème|poeme|histoire|imagine|invente)\b`)},
		{TypeFactual, regexp.MustCompile(`(?i)\b(what is|what are|who (is|was)|when (did|was)|where (is|was)|how (many|much|far|fast)|define|qu'est[- ]ce que|qui (est|était|etait)|quand|où|ou se trouve|combien|définis|definis)\b`)},
	}

	domainPatterns = []struct {
		d  Domain
		re *regexp.Regexp
	}{
		{DomainMedicine, regexp.MustCompile(`(?i)\b(disease|symptom|diagnosis|vaccine|medicine|medical|drug|cancer|therapy|maladie|symptôme|symptome|vaccin|médicament|medicament|médecine|medecine|cancer|thérapie|therapie)\b`)},
		{DomainMathematics, regexp.MustCompile(`(?i)\b(theorem|equation|integral|derivative|algebra|geometry|prime|matrix|théorème|theoreme|équation|equation|intégrale|integrale|dérivée|derivee|algèbre|algebre|géométrie|geometrie)\b`)},
		{DomainLaw, regexp.MustCompile(`(?i)\b(law|legal|court|contract|statute|regulation|liability|loi|juridique|tribunal|contrat|règlement|reglement|droit)\b`)},
		{DomainPhilosophy, regexp.MustCompile(`(?i)\b(philosophy|ethics|moral|metaphysics|epistemology|consciousness|free will|philosophie|éthique|ethique|morale|métaphysique|metaphysique|conscience|libre arbitre)\b`)},
		{DomainTechnology, regexp.MustCompile(`(?i)\b(software|computer|algorithm|programming|network|database|server|ai|machine learning|logiciel|ordinateur|algorithme|programmation|réseau|reseau|base de données|serveur)\b`)},
		{DomainHistory, regexp.MustCompile(`(?i)\b(history|historical|ancient|medieval|revolution|empire|war of|century|histoire|historique|antique|médiéval|medieval|révolution|revolution|empire|siècle|siecle)\b`)},
		{DomainLogic, regexp.MustCompile(`(?i)\b(logic|syllogism|paradox|fallacy|deduction|induction|logique|syllogisme|paradoxe|sophisme|déduction|deduction)\b`)},
		{DomainScience, regexp.MustCompile(`(?i)\b(physics|chemistry|biology|quantum|energy|speed of light|gravity|molecule|atom|evolution|climate|physique|chimie|biologie|quantique|énergie|energie|vitesse de la lumière|lumiere|gravité|gravite|molécule|atome|évolution|climat)\b`)},
		{DomainCreative, regexp.MustCompile(`(?i)\b(poem|story|novel|song|painting|art|poème|poeme|histoire|roman|chanson|peinture)\b`)},
	}

	controversialRe = regexp.MustCompile(`(?i)\b(controversial|debate|disputed|conspiracy|hoax|controversé|controverse|débat|debat|contesté|conteste|complot)\b`)
	realtimeRe      = regexp.MustCompile(`(?i)\b(today|now|latest|current|live|breaking|aujourd'hui|maintenant|en direct|dernière minute|derniere minute)\b`)

	// Clause and conditional markers contribute to complexity scoring.
	clauseRe = regexp.MustCompile(`(?i)\b(because|although|however|whereas|if|unless|therefore|parce que|bien que|cependant|tandis que|si|sauf si|donc)\b|[,;:]`)

	tokenRe = regexp.MustCompile(`[a-z0-9]+`)
)

var stopwords = map[string]bool{
	// English
	"the": true, "and": true, "for": true, "are": true, "was": true, "what": true,
	"who": true, "when": true, "where": true, "how": true, "why": true, "does": true,
	"did": true, "this": true, "that": true, "with": true, "from": true, "have": true,
	"has": true, "can": true, "you": true, "your": true, "not": true, "but": true,
	// French
	"les": true, "des": true, "une": true, "est": true, "que": true, "qui": true,
	"quoi": true, "quand": true, "comment": true, "pourquoi": true, "dans": true,
	"pour": true, "avec": true, "sur": true, "pas": true, "sont": true, "elle": true,
}

// Classify analyzes a query and returns its classification.
// It is a pure function: identical input always yields identical output.
func Classify(query string) Classification {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Classification{
			Type: TypeUnknown, Domain: DomainUnknown, Complexity: ComplexitySimple,
			Keywords: []string{}, Confidence: 0,
		}
	}

	// Conversational short-circuits verification entirely.
	if conversationalRe.MatchString(trimmed) {
		return Classification{
			Type:       TypeConversational,
			Domain:     DomainGeneral,
			Complexity: ComplexitySimple,
			Keywords:   extractKeywords(trimmed),
			Confidence: 0.95,
		}
	}

	c := Classification{
		Type:       TypeUnknown,
		Domain:     DomainGeneral,
		Keywords:   extractKeywords(trimmed),
		Confidence: 0.5,
	}

	for _, tp := range typePatterns {
		if tp.re.MatchString(trimmed) {
			c.Type = tp.t
			c.Confidence = 0.8
			break
		}
	}

	matchedDomain := false
	for _, dp := range domainPatterns {
		if dp.re.MatchString(trimmed) {
			c.Domain = dp.d
			matchedDomain = true
			break
		}
	}
	if c.Type == TypeUnknown && !matchedDomain {
		c.Domain = DomainUnknown
	}

	c.Complexity = complexityOf(trimmed)
	c.Controversial = controversialRe.MatchString(trimmed)
	c.RequiresRealtime = c.Type == TypeCurrentEvents || realtimeRe.MatchString(trimmed)

	// Everything except conversational and creative needs sourced verification.
	c.RequiresVerification = c.Type != TypeCreative
	c.RequiresMultipleSources = c.Controversial ||
		c.Type == TypeResearch || c.Complexity == ComplexityComplex

	return c
}

// complexityOf derives complexity from word count plus clause and
// conditional markers.
func complexityOf(query string) Complexity {
	words := len(strings.Fields(query))
	clauses := len(clauseRe.FindAllString(query, -1))
	score := words + 5*clauses
	switch {
	case score > 40:
		return ComplexityComplex
	case score > 15:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// extractKeywords lowercases the query, tokenizes alphanumerics, and drops
// stopwords and tokens of length <= 2. Order of first occurrence is kept.
func extractKeywords(query string) []string {
	tokens := tokenRe.FindAllString(strings.ToLower(query), -1)
	keywords := make([]string, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if len(tok) <= 2 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
	}
	return keywords
}
