// Package classifier implements the hybrid task classifier: a three-tier
// cascade (heuristic, learned, LLM) that classifies a user's task
// description into a task type and complexity bucket, escalating to a more
// expensive tier only when the cheaper one isn't confident enough.
package classifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/chatd/pkg/config"
	"github.com/codeready-toolchain/chatd/pkg/llm"
	"github.com/codeready-toolchain/chatd/pkg/metrics"
	"github.com/codeready-toolchain/chatd/pkg/models"
)

// Classifier runs the heuristic -> learned -> LLM escalation cascade.
type Classifier struct {
	heuristicThreshold float64
	learnedThreshold   float64
	weights            *Weights
	llmClient          llm.Client
	llmConfig          *config.LLMProviderConfig
}

// New builds a Classifier from cfg. If cfg.LearnedModelPath is set, its
// weights artifact is loaded; otherwise DefaultWeights is used. llmClient
// may be nil, in which case the cascade never escalates past the learned
// tier (Classify returns the learned-tier result even below threshold).
func New(cfg *config.ClassifierConfig, llmCfg *config.LLMProviderConfig, llmClient llm.Client) (*Classifier, error) {
	weights := DefaultWeights()
	if cfg.LearnedModelPath != "" {
		loaded, err := LoadWeights(cfg.LearnedModelPath)
		if err != nil {
			return nil, err
		}
		weights = loaded
	}

	return &Classifier{
		heuristicThreshold: cfg.HeuristicThreshold,
		learnedThreshold:   cfg.LearnedThreshold,
		weights:            weights,
		llmClient:          llmClient,
		llmConfig:          llmCfg,
	}, nil
}

// Classify runs the cascade against description, returning the result from
// the first tier confident enough to stop, or the deepest tier reached.
func (c *Classifier) Classify(ctx context.Context, description string) (*models.ClassificationResult, error) {
	start := time.Now()
	tier, result := c.classify(ctx, description)
	metrics.ClassifierTierTotal.WithLabelValues(string(tier)).Inc()
	metrics.ClassifierLatency.WithLabelValues(string(tier)).Observe(time.Since(start).Seconds())
	return result, nil
}

func (c *Classifier) classify(ctx context.Context, description string) (models.ClassifierTier, *models.ClassificationResult) {
	heuristic := classifyHeuristic(description)
	if heuristic.Confidence >= c.heuristicThreshold {
		heuristic.ClassifierUsed = models.TierHeuristic
		return models.TierHeuristic, c.finalize(heuristic)
	}

	learned := classifyLearned(description, c.weights)
	if learned.Confidence >= c.learnedThreshold || c.llmClient == nil {
		learned.ClassifierUsed = models.TierLearned
		return models.TierLearned, c.finalize(learned)
	}

	result, err := classifyLLM(ctx, c.llmClient, c.llmConfig, description)
	if err != nil {
		slog.Warn("classifier: llm tier failed, falling back to learned-tier result", "error", err)
		learned.ClassifierUsed = models.TierLearned
		return models.TierLearned, c.finalize(learned)
	}
	result.ClassifierUsed = models.TierLLM
	return models.TierLLM, c.finalize(result)
}

// finalize fills in the strategy and token-estimate fields derived from
// complexity, which every tier leaves zero-valued.
func (c *Classifier) finalize(r models.ClassificationResult) *models.ClassificationResult {
	r.SuggestedStrategy = models.StrategyForComplexity(r.Complexity)
	r.EstimatedTokens = models.EstimatedTokensForComplexity(r.Complexity)
	return &r
}
