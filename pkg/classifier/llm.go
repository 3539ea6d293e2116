package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/chatd/pkg/config"
	"github.com/codeready-toolchain/chatd/pkg/llm"
	"github.com/codeready-toolchain/chatd/pkg/models"
)

const llmClassifierSystemPrompt = `You classify a single user task description for a coding agent platform.
Respond with a single JSON object and nothing else, in this exact shape:
{"taskType": "BugFix|Feature|Refactor|Question|Chitchat", "complexity": "Simple|Medium|Complex|Epic", "confidence": 0.0}
confidence is your own estimate of how certain this classification is, between 0 and 1.`

type llmClassification struct {
	TaskType   string  `json:"taskType"`
	Complexity string  `json:"complexity"`
	Confidence float64 `json:"confidence"`
}

// classifyLLM is the last-resort tier: it asks the LLM sidecar itself to
// classify the description when the cheaper tiers aren't confident enough.
func classifyLLM(ctx context.Context, client llm.Client, llmCfg *config.LLMProviderConfig, description string) (models.ClassificationResult, error) {
	input := &llm.GenerateInput{
		Messages: []llm.ConversationMessage{
			{Role: llm.RoleSystem, Content: llmClassifierSystemPrompt},
			{Role: llm.RoleUser, Content: description},
		},
		Config: llmCfg,
	}

	chunks, err := client.Generate(ctx, input)
	if err != nil {
		return models.ClassificationResult{}, fmt.Errorf("classifier: llm tier generate: %w", err)
	}

	var text strings.Builder
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			text.WriteString(c.Content)
		case *llm.ErrorChunk:
			return models.ClassificationResult{}, fmt.Errorf("classifier: llm tier error: %s (code=%s retryable=%v)", c.Message, c.Code, c.Retryable)
		}
	}

	raw := strings.TrimSpace(text.String())
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed llmClassification
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return models.ClassificationResult{}, fmt.Errorf("classifier: llm tier response not parseable: %w", err)
	}

	complexity := models.TaskComplexity(parsed.Complexity)
	switch complexity {
	case models.ComplexitySimple, models.ComplexityMedium, models.ComplexityComplex, models.ComplexityEpic:
	default:
		complexity = models.ComplexityMedium
	}

	confidence := parsed.Confidence
	if confidence <= 0 {
		confidence = 0.75
	}
	if confidence > 1 {
		confidence = 1
	}

	return models.ClassificationResult{
		TaskType:   parsed.TaskType,
		Complexity: complexity,
		Confidence: confidence,
	}, nil
}
