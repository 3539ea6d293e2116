package classifier

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"

	"github.com/codeready-toolchain/chatd/pkg/models"
	"gopkg.in/yaml.v3"
)

// TaskTypeWeights is the scoring function for a single task type: a bias
// plus a per-token weight lookup and a flat bonus when the description
// contains code-like syntax.
type TaskTypeWeights struct {
	Bias              float64            `yaml:"bias"`
	TokenWeights      map[string]float64 `yaml:"tokenWeights"`
	CodePatternWeight float64            `yaml:"codePatternWeight"`
}

// Weights is the versioned artifact the learned tier scores against.
type Weights struct {
	Version   int                        `yaml:"version"`
	TaskTypes map[string]TaskTypeWeights `yaml:"taskTypes"`
}

// LoadWeights reads and validates a learned-tier weights artifact from path.
func LoadWeights(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: read weights file: %w", err)
	}

	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("classifier: parse weights file: %w", err)
	}
	if w.Version == 0 {
		return nil, fmt.Errorf("classifier: weights file %s missing version", path)
	}
	if len(w.TaskTypes) == 0 {
		return nil, fmt.Errorf("classifier: weights file %s has no taskTypes", path)
	}
	return &w, nil
}

// DefaultWeights is a small hand-seeded fallback artifact so the learned
// tier works without a configured model path.
func DefaultWeights() *Weights {
	return &Weights{
		Version: 1,
		TaskTypes: map[string]TaskTypeWeights{
			"BugFix": {
				Bias: -0.2,
				TokenWeights: map[string]float64{
					"bug": 1.4, "error": 1.2, "fix": 1.3, "crash": 1.5,
					"broken": 1.1, "exception": 1.2, "failing": 1.1,
				},
				CodePatternWeight: 0.6,
			},
			"Feature": {
				Bias: -0.2,
				TokenWeights: map[string]float64{
					"add": 1.0, "implement": 1.3, "new": 0.8, "feature": 1.4,
					"support": 0.9, "build": 0.8,
				},
				CodePatternWeight: 0.3,
			},
			"Refactor": {
				Bias: -0.4,
				TokenWeights: map[string]float64{
					"refactor": 1.6, "cleanup": 1.1, "reorganize": 1.2,
					"restructure": 1.2, "simplify": 1.0,
				},
				CodePatternWeight: 0.5,
			},
			"Question": {
				Bias: -0.3,
				TokenWeights: map[string]float64{
					"how": 1.0, "why": 1.0, "what": 0.7, "explain": 1.4,
					"understand": 1.0, "clarify": 1.1,
				},
				CodePatternWeight: -0.2,
			},
			"Chitchat": {
				Bias: -0.6,
				TokenWeights: map[string]float64{
					"thanks": 1.5, "hello": 1.4, "hi": 1.2, "hey": 1.2,
					"please": 1.0, "when": 0.6,
				},
				CodePatternWeight: -0.5,
			},
		},
	}
}

var codePatternRegexp = regexp.MustCompile(`[(){}\[\];]|==|!=|->|::|\bfunc\b|\bdef\b`)

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// classifyLearned scores description against w, picking the highest-scoring
// task type with deterministic alphabetical tie-breaking.
func classifyLearned(description string, w *Weights) models.ClassificationResult {
	lower := description
	tokens := tokenize(lowerASCII(lower))
	hasCodePattern := codePatternRegexp.MatchString(description)

	taskTypes := make([]string, 0, len(w.TaskTypes))
	for taskType := range w.TaskTypes {
		taskTypes = append(taskTypes, taskType)
	}
	sort.Strings(taskTypes)

	bestType := taskTypes[0]
	bestScore := math.Inf(-1)
	for _, taskType := range taskTypes {
		tw := w.TaskTypes[taskType]
		score := tw.Bias
		for _, tok := range tokens {
			score += tw.TokenWeights[tok]
		}
		if hasCodePattern {
			score += tw.CodePatternWeight
		}
		if score > bestScore {
			bestScore, bestType = score, taskType
		}
	}

	return models.ClassificationResult{
		TaskType:   bestType,
		Complexity: complexityFromMarkers(lowerASCII(description), len(tokens)),
		Confidence: sigmoid(bestScore),
	}
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
