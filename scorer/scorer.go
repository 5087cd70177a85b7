package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"peterpan-analyzer/listing"
	"peterpan-analyzer/ratelimit"
	"peterpan-analyzer/retry"
	"peterpan-analyzer/scorecard"
)

const baseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// systemInstruction frames every single-listing scoring call.
const systemInstruction = "당신은 한국의 부동산 시장에 정통한 전문가입니다. 제공된 매물 정보를 객관적으로 분석하고 점수를 매깁니다."

// Output limits per call shape. Batch responses carry a scorecard per
// listing, so they need far more room.
const (
	singleMaxOutputTokens = 3000
	batchMaxOutputTokens  = 30000
	batchTopP             = 0.9
)

// Client calls the Gemini generateContent endpoint.
type Client struct {
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
	baseURL     string
}

// NewClient creates a Client for the given model. One Client is shared by
// the single-listing and batch paths.
func NewClient(apiKey, model string, temperature float64, client *http.Client) *Client {
	return &Client{
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		client:      client,
		baseURL:     baseURL,
	}
}

// newClientWithURL creates a Client with a custom base URL for testing.
func newClientWithURL(apiKey, model string, temperature float64, client *http.Client, url string) *Client {
	c := NewClient(apiKey, model, temperature, client)
	c.baseURL = url
	return c
}

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (c *Client) singleRequest(prompt string) geminiRequest {
	return geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemInstruction}}},
		GenerationConfig: &generationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: singleMaxOutputTokens,
		},
	}
}

func (c *Client) batchRequest(prompt string) geminiRequest {
	return geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: &generationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: batchMaxOutputTokens,
			TopP:            batchTopP,
		},
	}
}

// retryDelayRe pulls the server-suggested wait out of a quota error body.
var retryDelayRe = regexp.MustCompile(`retryDelay['"]?\s*:\s*['"](\d+)s`)

func (c *Client) generate(ctx context.Context, reqBody geminiRequest) (string, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Gemini API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || bytes.Contains(respBody, []byte("RESOURCE_EXHAUSTED")) {
		return "", &retry.QuotaError{
			RetryAfter: parseRetryDelay(respBody),
			Err:        fmt.Errorf("Gemini API returned status %d: %s", resp.StatusCode, snippet(respBody)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Gemini API returned status %d: %s", resp.StatusCode, snippet(respBody))
	}

	var gemResp geminiResponse
	if err := json.Unmarshal(respBody, &gemResp); err != nil {
		return "", fmt.Errorf("parsing Gemini response: %w", err)
	}

	if len(gemResp.Candidates) == 0 || len(gemResp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("empty response from Gemini API")
	}

	text := gemResp.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty response from Gemini API")
	}
	return text, nil
}

func parseRetryDelay(body []byte) time.Duration {
	m := retryDelayRe.FindSubmatch(body)
	if m == nil {
		return 0
	}
	secs, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func snippet(body []byte) string {
	const limit = 300
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// Analyzer scores listings one at a time for the initial analysis pass.
type Analyzer struct {
	client   *Client
	gate     *ratelimit.Gate
	policy   *retry.Policy
	landmark Landmark
}

// NewAnalyzer creates an Analyzer. The gate paces every network attempt;
// the policy decides how failures are retried.
func NewAnalyzer(client *Client, gate *ratelimit.Gate, policy *retry.Policy, landmark Landmark) *Analyzer {
	return &Analyzer{client: client, gate: gate, policy: policy, landmark: landmark}
}

// Analyze scores rec in place. API and parse failures degrade onto the
// record as a fallback scorecard plus ai_analysis_error; only context
// cancellation comes back as an error.
func (a *Analyzer) Analyze(ctx context.Context, rec *listing.Record) error {
	prompt := singlePrompt(rec, a.landmark)

	var text string
	err := a.policy.Do(ctx, "score "+rec.ID, func(ctx context.Context) error {
		if err := a.gate.Wait(ctx); err != nil {
			return err
		}
		out, err := a.client.generate(ctx, a.client.singleRequest(prompt))
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("scoring failed, using fallback scorecard", "id", rec.ID, "error", err)
		rec.AnalysisError = "Gemini API 호출 실패: " + err.Error()
		rec.ApplyScorecard(scorecard.Fallback())
		return nil
	}

	card, ok := scorecard.ParseObject(text)
	if !ok {
		slog.Error("no scorecard in scoring response", "id", rec.ID)
		rec.AnalysisError = "JSON 파싱 실패"
		rec.ApplyScorecard(scorecard.Fallback())
		return nil
	}

	card.CoerceScores()
	rec.ApplyScorecard(card)
	if rec.ReanalysisNote == "" {
		rec.ReanalysisNote = "개별 분석 완료. 재평가 대기 중."
	}
	slog.Info("listing scored", "id", rec.ID, "total", rec.TotalScore())
	return nil
}

// Reevaluator requests batch re-scoring of already-analyzed listings and
// returns the raw response text for the caller to reconcile.
type Reevaluator struct {
	client *Client
	gate   *ratelimit.Gate
	policy *retry.Policy
}

// NewReevaluator creates a Reevaluator. Batch calls share their own gate,
// separate from the single-listing one.
func NewReevaluator(client *Client, gate *ratelimit.Gate, policy *retry.Policy) *Reevaluator {
	return &Reevaluator{client: client, gate: gate, policy: policy}
}

// ReevaluateBatch sends one batch for re-scoring. Empty responses count as
// failures and are retried under the batch policy.
func (r *Reevaluator) ReevaluateBatch(ctx context.Context, records []*listing.Record) (string, error) {
	prompt, err := batchPrompt(records)
	if err != nil {
		return "", err
	}

	var text string
	err = r.policy.Do(ctx, "reevaluate batch", func(ctx context.Context) error {
		if err := r.gate.Wait(ctx); err != nil {
			return err
		}
		out, err := r.client.generate(ctx, r.client.batchRequest(prompt))
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.Debug("batch re-scoring response received",
		"records", len(records), "response_len", len(text))
	return text, nil
}
