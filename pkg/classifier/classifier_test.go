package classifier

import (
	"context"
	"os"
	"testing"

	"github.com/codeready-toolchain/chatd/pkg/config"
	"github.com/codeready-toolchain/chatd/pkg/llm"
	"github.com/codeready-toolchain/chatd/pkg/models"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T, client llm.Client) *Classifier {
	t.Helper()
	c, err := New(config.DefaultClassifierConfig(), nil, client)
	require.NoError(t, err)
	return c
}

func TestClassify_ClearBugFixStopsAtHeuristicTier(t *testing.T) {
	c := newTestClassifier(t, nil)

	result, err := c.Classify(context.Background(), "fix the off-by-one in sum()")
	require.NoError(t, err)
	require.Equal(t, models.TierHeuristic, result.ClassifierUsed)
	require.Equal(t, "BugFix", result.TaskType)
	require.GreaterOrEqual(t, result.Confidence, 0.85)
}

func TestClassify_AmbiguousDescriptionEscalatesToLearnedTier(t *testing.T) {
	c := newTestClassifier(t, nil)

	result, err := c.Classify(context.Background(), "please take a look at this when you can")
	require.NoError(t, err)
	require.Equal(t, models.TierLearned, result.ClassifierUsed)
}

func TestClassify_VeryAmbiguousDescriptionEscalatesToLLMTier(t *testing.T) {
	client := &fakeLLMClient{
		chunks: textChunks(`{"taskType": "Question", "complexity": "Medium", "confidence": 0.95}`),
	}
	cfg := config.DefaultClassifierConfig()
	cfg.LearnedThreshold = 0.999 // force escalation past the learned tier for this test
	c, err := New(cfg, nil, client)
	require.NoError(t, err)

	result, err := c.Classify(context.Background(), "the system needs what it needs")
	require.NoError(t, err)
	require.Equal(t, models.TierLLM, result.ClassifierUsed)
	require.Equal(t, "Question", result.TaskType)
}

func TestClassify_LLMTierErrorFallsBackToLearnedResult(t *testing.T) {
	client := &fakeLLMClient{err: context.DeadlineExceeded}
	cfg := config.DefaultClassifierConfig()
	cfg.LearnedThreshold = 0.999
	c, err := New(cfg, nil, client)
	require.NoError(t, err)

	result, err := c.Classify(context.Background(), "the system needs what it needs")
	require.NoError(t, err, "an LLM-tier failure must degrade, not propagate")
	require.Equal(t, models.TierLearned, result.ClassifierUsed)
}

func TestClassify_NoLLMClientStopsAtLearnedTier(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	cfg.LearnedThreshold = 0.999
	c, err := New(cfg, nil, nil)
	require.NoError(t, err)

	result, err := c.Classify(context.Background(), "the system needs what it needs")
	require.NoError(t, err)
	require.Equal(t, models.TierLearned, result.ClassifierUsed)
}

func TestClassify_ResultIncludesStrategyAndTokenEstimate(t *testing.T) {
	c := newTestClassifier(t, nil)

	result, err := c.Classify(context.Background(), "fix the off-by-one in sum()")
	require.NoError(t, err)
	require.Equal(t, models.StrategyForComplexity(result.Complexity), result.SuggestedStrategy)
	require.Equal(t, models.EstimatedTokensForComplexity(result.Complexity), result.EstimatedTokens)
}

func TestClassify_ConfidenceMonotoneAcrossEscalation(t *testing.T) {
	// Whatever tier a result comes from, its confidence must meet that
	// tier's threshold (or be the deepest tier reached).
	cfg := config.DefaultClassifierConfig()
	c, err := New(cfg, nil, nil)
	require.NoError(t, err)

	result, err := c.Classify(context.Background(), "fix the off-by-one in sum()")
	require.NoError(t, err)
	if result.ClassifierUsed == models.TierHeuristic {
		require.GreaterOrEqual(t, result.Confidence, cfg.HeuristicThreshold)
	}
}

func TestNew_LoadsConfiguredWeightsFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/weights.yaml"
	content := `
version: 3
taskTypes:
  Chitchat:
    bias: 0.1
    tokenWeights:
      hello: 2.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := config.DefaultClassifierConfig()
	cfg.LearnedModelPath = path
	c, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 3, c.weights.Version)
}

func TestNew_InvalidWeightsPathErrors(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	cfg.LearnedModelPath = "/nonexistent/weights.yaml"
	_, err := New(cfg, nil, nil)
	require.Error(t, err)
}
