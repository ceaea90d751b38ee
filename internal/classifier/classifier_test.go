package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krigsexe/Yggdrasil/internal/classifier"
)

func TestClassifyConversationalShortCircuits(t *testing.T) {
	for _, q := range []string{"Hello there", "bonjour", "Thanks!", "merci beaucoup"} {
		c := classifier.Classify(q)
		assert.Equal(t, classifier.TypeConversational, c.Type, "query %q", q)
		assert.False(t, c.RequiresVerification, "conversational must not require verification: %q", q)
	}
}

func TestClassifyFactualScience(t *testing.T) {
	c := classifier.Classify("What is the speed of light in vacuum?")
	assert.Equal(t, classifier.TypeFactual, c.Type)
	assert.Equal(t, classifier.DomainScience, c.Domain)
	assert.True(t, c.RequiresVerification)
	assert.Contains(t, c.Keywords, "speed")
	assert.Contains(t, c.Keywords, "light")
	assert.NotContains(t, c.Keywords, "the", "stopwords must be dropped")
	assert.NotContains(t, c.Keywords, "is", "short tokens must be dropped")
}

func TestClassifyFrenchFactual(t *testing.T) {
	c := classifier.Classify("Qu'est-ce que la vitesse de la lumière ?")
	assert.Equal(t, classifier.TypeFactual, c.Type)
	assert.Equal(t, classifier.DomainScience, c.Domain)
}

func TestClassifyCurrentEventsRealtime(t *testing.T) {
	c := classifier.Classify("What is the latest news about the election today?")
	assert.Equal(t, classifier.TypeCurrentEvents, c.Type)
	assert.True(t, c.RequiresRealtime)
}

func TestClassifyControversial(t *testing.T) {
	c := classifier.Classify("What is the evidence behind this controversial conspiracy theory?")
	assert.True(t, c.Controversial)
	assert.True(t, c.RequiresMultipleSources)
}

func TestClassifyComplexity(t *testing.T) {
	simple := classifier.Classify("What is gravity?")
	assert.Equal(t, classifier.ComplexitySimple, simple.Complexity)

	complexQ := classifier.Classify("If quantum entanglement allows correlated measurements, " +
		"although no information travels faster than light, because the no-communication theorem holds, " +
		"however some interpretations disagree, therefore how should we understand nonlocality, " +
		"unless hidden variables exist, whereas Bell tests suggest otherwise?")
	assert.Equal(t, classifier.ComplexityComplex, complexQ.Complexity)
}

func TestClassifyDeterministic(t *testing.T) {
	q := "How many prime numbers are below one hundred?"
	a := classifier.Classify(q)
	b := classifier.Classify(q)
	assert.Equal(t, a, b, "classification must be a pure function")
}

func TestClassifyEmpty(t *testing.T) {
	c := classifier.Classify("   ")
	assert.Equal(t, classifier.TypeUnknown, c.Type)
	assert.Equal(t, classifier.DomainUnknown, c.Domain)
	require.NotNil(t, c.Keywords)
	assert.Empty(t, c.Keywords)
}

func TestKeywordsLowercasedUnique(t *testing.T) {
	c := classifier.Classify("Gravity gravity GRAVITY explains orbital mechanics")
	count := 0
	for _, k := range c.Keywords {
		if k == "gravity" {
			count++
		}
	}
	assert.Equal(t, 1, count, "keywords must be deduplicated and lowercased")
}
