package config

// ClassifierConfig contains HybridClassifier tier-escalation configuration.
type ClassifierConfig struct {
	// HeuristicThreshold is the minimum confidence below which the learned
	// tier is consulted.
	HeuristicThreshold float64 `yaml:"heuristic_threshold" validate:"min=0,max=1"`

	// LearnedThreshold is the minimum confidence below which the LLM tier
	// is consulted.
	LearnedThreshold float64 `yaml:"learned_threshold" validate:"min=0,max=1"`

	// LearnedModelPath is the path to the versioned, pre-trained classifier
	// artifact loaded at startup (weights + vocabulary).
	LearnedModelPath string `yaml:"learned_model_path,omitempty"`

	// LLMProvider names the entry in the LLM provider registry used for the
	// classifier's LLM escalation tier. Empty disables that tier: the
	// cascade never escalates past the learned tier.
	LLMProvider string `yaml:"llm_provider,omitempty"`
}

// DefaultClassifierConfig returns the built-in classifier thresholds.
func DefaultClassifierConfig() *ClassifierConfig {
	return &ClassifierConfig{
		HeuristicThreshold: 0.85,
		LearnedThreshold:   0.70,
	}
}
