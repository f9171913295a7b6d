package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_SSNIsConfidentialAndStaysLocal(t *testing.T) {
	c := New(Options{})
	result := c.Classify("My SSN is 123-45-6789")
	assert.Equal(t, LevelConfidential, result.Level)
	assert.True(t, result.ShouldStayLocal)
	assert.Contains(t, result.Categories, "identity")
}

func TestClassify_PublicQueryHasZeroConfidence(t *testing.T) {
	c := New(Options{})
	result := c.Classify("What is the capital of France?")
	assert.Equal(t, LevelPublic, result.Level)
	assert.False(t, result.ShouldStayLocal)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestClassify_StrictModeForcesSensitiveLocal(t *testing.T) {
	lenient := New(Options{StrictMode: false})
	strict := New(Options{StrictMode: true})
	query := "What's my current location right now?"

	assert.False(t, lenient.Classify(query).ShouldStayLocal)
	assert.True(t, strict.Classify(query).ShouldStayLocal)
}

func TestClassify_ConfidenceCapsAt95Percent(t *testing.T) {
	c := New(Options{})
	result := c.Classify("My SSN is 123-45-6789 and my passport number and social security and credit card and account number")
	assert.LessOrEqual(t, result.Confidence, 0.95)
}
