// Package scoring refines detector confidence scores with an AI model.
//
// Scoring is strictly advisory: any API failure, timeout, or malformed
// response leaves the heuristic confidences untouched. A supervisor
// without an API key runs with scoring disabled.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"

	"github.com/chainwatch/chainwatch/internal/analyzer"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "claude-3-5-haiku-20241022"

// Config holds scorer configuration.
type Config struct {
	// APIKey for the Anthropic API (falls back to ANTHROPIC_API_KEY)
	APIKey string
	// Model to use (default: claude-3-5-haiku-20241022)
	Model string
	// MaxConcurrent limits in-flight API calls (default 2)
	MaxConcurrent int
	// CallTimeout bounds a single API call (default 15s)
	CallTimeout time.Duration
	// MaxRetries for transient API failures (default 2)
	MaxRetries int
}

// Scorer asks an AI model to re-score issue confidences given the issue
// context. A nil *Scorer is valid and scores nothing.
type Scorer struct {
	client      *anthropic.Client
	model       string
	sem         *semaphore.Weighted
	callTimeout time.Duration
	maxRetries  int
}

// NewScorer creates a confidence scorer. It returns (nil, nil) when no
// API key is available: scoring is optional and absence is not an error.
func NewScorer(cfg Config) (*Scorer, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, nil
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Scorer{
		client:      &client,
		model:       model,
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		callTimeout: callTimeout,
		maxRetries:  maxRetries,
	}, nil
}

// scoredIssue is the JSON shape the model is asked to return.
type scoredIssue struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Score returns a copy of issues with model-adjusted confidences.
// On any failure the input is returned unchanged.
func (s *Scorer) Score(ctx context.Context, issues []analyzer.Issue, a *analyzer.Analysis) []analyzer.Issue {
	if s == nil || len(issues) == 0 {
		return issues
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return issues
	}
	defer s.sem.Release(1)

	prompt := s.buildPrompt(issues, a)
	text, err := s.callWithRetry(ctx, prompt)
	if err != nil {
		fmt.Printf("Scorer: API call failed, keeping heuristic confidences: %v\n", err)
		return issues
	}

	scored, err := parseScores(text)
	if err != nil {
		fmt.Printf("Scorer: unparseable response, keeping heuristic confidences: %v\n", err)
		return issues
	}

	byType := make(map[string]float64, len(scored))
	for _, si := range scored {
		if si.Confidence > 0 && si.Confidence <= 1.0 {
			byType[si.Type] = si.Confidence
		}
	}

	out := make([]analyzer.Issue, len(issues))
	copy(out, issues)
	for i := range out {
		if c, ok := byType[string(out[i].Type)]; ok {
			out[i].Confidence = c
		}
	}
	return out
}

func (s *Scorer) callWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 2 * time.Second
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		resp, err := s.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(s.model),
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return text.String(), nil
	}
	return "", fmt.Errorf("scoring failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

func (s *Scorer) buildPrompt(issues []analyzer.Issue, a *analyzer.Analysis) string {
	var b strings.Builder
	b.WriteString("You are reviewing anomaly detections from an automated workflow supervisor.\n")
	b.WriteString("For each issue, judge how likely it reflects a real problem and return a JSON array\n")
	b.WriteString(`of objects like [{"type": "...", "confidence": 0.0-1.0}]. Return ONLY the JSON array.`)
	b.WriteString("\n\nCurrent workflow state:\n")
	if a != nil {
		fmt.Fprintf(&b, "- command: %s, phase: %s\n", a.CurrentCommand, a.CurrentPhase)
		fmt.Fprintf(&b, "- active agents: %d\n", len(a.ActiveAgents))
	}
	b.WriteString("\nDetected issues:\n")
	for _, iss := range issues {
		fmt.Fprintf(&b, "- type=%s heuristic_confidence=%.2f message=%q\n", iss.Type, iss.Confidence, iss.Message)
	}
	return b.String()
}

var codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?([\\s\\S]*?)\\n?```")

// parseScores extracts the JSON array from the response, tolerating
// markdown code fences and surrounding prose.
func parseScores(text string) ([]scoredIssue, error) {
	candidate := strings.TrimSpace(text)
	if m := codeFenceRegex.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}
	if start := strings.IndexByte(candidate, '['); start >= 0 {
		if end := strings.LastIndexByte(candidate, ']'); end > start {
			candidate = candidate[start : end+1]
		}
	}

	var scored []scoredIssue
	if err := json.Unmarshal([]byte(candidate), &scored); err != nil {
		return nil, fmt.Errorf("parsing score array: %w", err)
	}
	return scored, nil
}
