package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainwatch/internal/analyzer"
)

func TestNewScorerWithoutKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	s, err := NewScorer(Config{})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNewScorerDefaults(t *testing.T) {
	s, err := NewScorer(Config{APIKey: "test-key"})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, DefaultModel, s.model)
	assert.Equal(t, 2, s.maxRetries)
}

func TestNilScorerScoresNothing(t *testing.T) {
	var s *Scorer
	issues := []analyzer.Issue{{Type: analyzer.IssueSilence, Confidence: 0.6}}
	out := s.Score(context.Background(), issues, nil)
	assert.Equal(t, issues, out)
}

func TestParseScores(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    []scoredIssue
		wantErr bool
	}{
		{
			name: "bare array",
			text: `[{"type": "silence", "confidence": 0.8}]`,
			want: []scoredIssue{{Type: "silence", Confidence: 0.8}},
		},
		{
			name: "json code fence",
			text: "```json\n[{\"type\": \"phase_stuck\", \"confidence\": 0.4}]\n```",
			want: []scoredIssue{{Type: "phase_stuck", Confidence: 0.4}},
		},
		{
			name: "unlabeled fence",
			text: "```\n[{\"type\": \"loop_detected\", \"confidence\": 0.9}]\n```",
			want: []scoredIssue{{Type: "loop_detected", Confidence: 0.9}},
		},
		{
			name: "surrounding prose",
			text: `Here is my assessment: [{"type": "regression", "confidence": 0.7}] as requested.`,
			want: []scoredIssue{{Type: "regression", Confidence: 0.7}},
		},
		{
			name: "empty array",
			text: `[]`,
			want: []scoredIssue{},
		},
		{
			name:    "no json at all",
			text:    "I cannot help with that.",
			wantErr: true,
		},
		{
			name:    "malformed json",
			text:    `[{"type": "silence", "confidence":}]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScores(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPromptIncludesIssues(t *testing.T) {
	s := &Scorer{model: DefaultModel}
	prompt := s.buildPrompt(
		[]analyzer.Issue{
			{Type: analyzer.IssueSilence, Confidence: 0.62, Message: "no log activity for 12m"},
		},
		&analyzer.Analysis{CurrentCommand: "build", CurrentPhase: "green"},
	)
	assert.Contains(t, prompt, "type=silence")
	assert.Contains(t, prompt, "heuristic_confidence=0.62")
	assert.Contains(t, prompt, "command: build, phase: green")
	assert.Contains(t, prompt, "Return ONLY the JSON array")
}
