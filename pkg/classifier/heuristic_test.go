package classifier

import (
	"testing"

	"github.com/codeready-toolchain/chatd/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestClassifyHeuristic_BugFixKeywords(t *testing.T) {
	result := classifyHeuristic("fix the off-by-one bug in sum()")
	require.Equal(t, "BugFix", result.TaskType)
	require.GreaterOrEqual(t, result.Confidence, 0.85)
}

func TestClassifyHeuristic_FeatureKeywords(t *testing.T) {
	result := classifyHeuristic("implement support for a new webhook feature")
	require.Equal(t, "Feature", result.TaskType)
}

func TestClassifyHeuristic_AmbiguousDescriptionLowConfidence(t *testing.T) {
	result := classifyHeuristic("please take a look at this when you can")
	require.Less(t, result.Confidence, 0.85)
}

func TestComplexityFromMarkers_SmallMarkerWins(t *testing.T) {
	c := complexityFromMarkers("a trivial one line change please", 20)
	require.Equal(t, models.ComplexitySimple, c)
}

func TestComplexityFromMarkers_MajorMarkerWins(t *testing.T) {
	c := complexityFromMarkers("this needs a major rewrite", 5)
	require.Equal(t, models.ComplexityComplex, c)
}

func TestComplexityFromMarkers_WordCountBands(t *testing.T) {
	require.Equal(t, models.ComplexitySimple, complexityFromMarkers("short request here", 3))
	require.Equal(t, models.ComplexityMedium, complexityFromMarkers("", 15))
	require.Equal(t, models.ComplexityComplex, complexityFromMarkers("", 40))
	require.Equal(t, models.ComplexityEpic, complexityFromMarkers("", 100))
}

func TestTokenize_SplitsOnNonAlphanumeric(t *testing.T) {
	tokens := tokenize("fix the bug in sum()!")
	require.Equal(t, []string{"fix", "the", "bug", "in", "sum"}, tokens)
}
