package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/codeready-toolchain/chatd/pkg/models"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(lower string) []string {
	return tokenPattern.FindAllString(lower, -1)
}

// taskTypeKeywords is the fixed per-task-type keyword table the heuristic
// tier matches against. Order within a slice doesn't matter; map iteration
// is sorted by key before scoring so results are deterministic.
var taskTypeKeywords = map[string][]string{
	"BugFix": {
		"bug", "error", "fix", "crash", "fail", "failing", "broken",
		"exception", "panic", "regression",
	},
	"Feature": {
		"add", "implement", "new", "feature", "support", "introduce",
	},
	"Refactor": {
		"refactor", "cleanup", "clean up", "reorganize", "restructure",
		"simplify", "rename",
	},
	"Question": {
		"how", "why", "explain", "understand", "clarify",
	},
}

var smallMarkers = []string{"small", "trivial", "tiny", "minor", "quick", "typo"}
var majorMarkers = []string{"major", "rewrite", "overhaul", "large", "huge", "redesign"}

// classifyHeuristic scores description against the fixed keyword table.
// Confidence rewards keyword density and penalizes ambiguity (multiple
// task types matching roughly equally).
func classifyHeuristic(description string) models.ClassificationResult {
	lower := strings.ToLower(description)
	tokens := tokenize(lower)

	taskTypes := make([]string, 0, len(taskTypeKeywords))
	for taskType := range taskTypeKeywords {
		taskTypes = append(taskTypes, taskType)
	}
	sort.Strings(taskTypes)

	matchCounts := make(map[string]int, len(taskTypes))
	matchedTypes := 0
	for _, taskType := range taskTypes {
		count := 0
		for _, kw := range taskTypeKeywords[taskType] {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		if count > 0 {
			matchCounts[taskType] = count
			matchedTypes++
		}
	}

	bestType, bestCount := "Chitchat", 0
	for _, taskType := range taskTypes {
		if matchCounts[taskType] > bestCount {
			bestType, bestCount = taskType, matchCounts[taskType]
		}
	}

	var confidence float64
	switch {
	case bestCount == 0:
		// No keyword matched anything: probably chitchat, but not confident
		// enough to stop the cascade here.
		confidence = 0.5
	default:
		wordCount := len(tokens)
		if wordCount == 0 {
			wordCount = 1
		}
		density := float64(bestCount) / float64(wordCount)
		confidence = 0.55 + density
		if matchedTypes == 1 {
			confidence += 0.2 // only one category matched: boost
		}
		if confidence > 0.99 {
			confidence = 0.99
		}
	}

	return models.ClassificationResult{
		TaskType:   bestType,
		Complexity: complexityFromMarkers(lower, len(tokens)),
		Confidence: confidence,
	}
}

// complexityFromMarkers applies explicit size markers first, falling back
// to word count as a tiebreaker.
func complexityFromMarkers(lower string, wordCount int) models.TaskComplexity {
	for _, m := range majorMarkers {
		if strings.Contains(lower, m) {
			return models.ComplexityComplex
		}
	}
	for _, m := range smallMarkers {
		if strings.Contains(lower, m) {
			return models.ComplexitySimple
		}
	}

	switch {
	case wordCount <= 8:
		return models.ComplexitySimple
	case wordCount <= 25:
		return models.ComplexityMedium
	case wordCount <= 60:
		return models.ComplexityComplex
	default:
		return models.ComplexityEpic
	}
}
