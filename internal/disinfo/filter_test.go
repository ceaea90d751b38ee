package disinfo_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krigsexe/Yggdrasil/internal/disinfo"
)

func TestAnalyzeCleanContent(t *testing.T) {
	a := disinfo.Analyze("https://example.org/article", "The committee published its annual report on water quality.", nil)
	assert.Equal(t, 0, a.RiskScore)
	assert.Equal(t, disinfo.SeverityLow, a.Severity)
	assert.Equal(t, disinfo.RecommendAccept, a.Recommendation)
	assert.Equal(t, 50, a.Confidence)
	assert.Empty(t, a.DetectedTypes)
}

func TestAnalyzeSatireSource(t *testing.T) {
	a := disinfo.Analyze("https://theonion.com/article", "The mayor opened a new library on Tuesday.", nil)
	assert.Contains(t, a.Indicators, "SATIRE_SOURCE")
	assert.Contains(t, a.DetectedTypes, disinfo.TypeSatireAsNews)
	// Risk 30 -> MEDIUM -> not ACCEPT.
	assert.NotEqual(t, disinfo.RecommendAccept, a.Recommendation)
}

func TestAnalyzeKnownDisinfoBlocks(t *testing.T) {
	a := disinfo.Analyze("https://www.infowars.com/story", "Totally neutral text.", nil)
	assert.Contains(t, a.DetectedTypes, disinfo.TypeKnownDisinfoSource)
	assert.Equal(t, disinfo.RecommendBlock, a.Recommendation)
	assert.GreaterOrEqual(t, a.RiskScore, 50)
}

func TestAnalyzeFactCheckerAccepted(t *testing.T) {
	a := disinfo.Analyze("https://reuters.com/world/article", "Officials confirmed the agreement on Friday.", nil)
	assert.Equal(t, disinfo.RecommendAccept, a.Recommendation)
}

func TestAnalyzeScientificMisinformationCritical(t *testing.T) {
	a := disinfo.Analyze("https://example.org", "New study shows vaccines cause autism in children.", nil)
	assert.Contains(t, a.DetectedTypes, disinfo.TypeScientificMisinformation)
	assert.Equal(t, disinfo.SeverityCritical, a.Severity, "scientific misinformation forces CRITICAL")
	assert.Equal(t, disinfo.RecommendBlock, a.Recommendation)
}

func TestAnalyzeLayeredSignalsCapAt100(t *testing.T) {
	content := "SHOCKING!!! They don't want you to know the deep state cover-up! " +
		"Wake up sheeple! The earth is flat. Vaccines cause autism. " +
		"Climate change is a hoax. Act now before it's too late! Everyone knows this. " +
		"Sources say it. Experts claim it. People are saying it. Insiders reveal everything."
	a := disinfo.Analyze("https://realnews24.tk", content, nil)
	assert.Equal(t, 100, a.RiskScore, "additive score must cap at 100")
	assert.Equal(t, disinfo.SeverityCritical, a.Severity)
	assert.LessOrEqual(t, a.Confidence, 95)
	assert.GreaterOrEqual(t, a.Confidence, 50)
}

func TestAnalyzeTemporalLayer(t *testing.T) {
	old := time.Now().Add(-2 * 365 * 24 * time.Hour)
	a := disinfo.Analyze("https://example.org", "This crisis is happening now, as we speak.", &disinfo.Metadata{PublishedAt: &old})
	assert.Contains(t, a.DetectedTypes, disinfo.TypeOutdatedContent)
	assert.GreaterOrEqual(t, a.RiskScore, 25)

	recent := time.Now().Add(-24 * time.Hour)
	b := disinfo.Analyze("https://example.org", "This crisis is happening now, as we speak.", &disinfo.Metadata{PublishedAt: &recent})
	assert.NotContains(t, b.DetectedTypes, disinfo.TypeOutdatedContent)
}

func TestAnalyzeVagueAttributionThreshold(t *testing.T) {
	// Two vague attributions: below the n>2 threshold, no signal.
	two := disinfo.Analyze("https://example.org", "Sources say one thing. Experts claim another.", nil)
	assert.NotContains(t, two.DetectedTypes, disinfo.TypeVagueAttribution)

	three := disinfo.Analyze("https://example.org",
		"Sources say one thing. Experts claim another. People are saying a third.", nil)
	assert.Contains(t, three.DetectedTypes, disinfo.TypeVagueAttribution)
}

func TestAnalyzeRiskScoreAndConfidenceRanges(t *testing.T) {
	inputs := []string{
		"",
		"Plain statement.",
		"SHOCKING!!! act now!!! undeniable proof!!! the deep state!!!",
	}
	for _, content := range inputs {
		a := disinfo.Analyze("https://example.org", content, nil)
		require.GreaterOrEqual(t, a.RiskScore, 0)
		require.LessOrEqual(t, a.RiskScore, 100)
		require.GreaterOrEqual(t, a.Confidence, 50)
		require.LessOrEqual(t, a.Confidence, 95)
	}
}
