// Package gemini proxies free-text questions to the Gemini API, priming the
// prompt with a slice of the current rune data.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onecockle/runedex/internal/runes"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Grades that get injected into the prompt as reference material.
const (
	gradeMythic    = "신화"
	gradeLegendary = "전설"
)

// maxPromptRunes caps how many rune names the prompt carries.
const maxPromptRunes = 50

// emptyAnswerFallback is returned when the model produces no text.
const emptyAnswerFallback = "응답이 없어요."

// Client calls the generateContent endpoint.
type Client struct {
	apiKey string
	model  string
	client *resty.Client
}

// New builds a Client. An empty apiKey produces a disabled client; Ask will
// report that the route is unavailable.
func New(apiKey, model string, timeout time.Duration) *Client {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		client: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(timeout),
	}
}

// SetBaseURL overrides the API host, used by tests.
func (c *Client) SetBaseURL(url string) {
	c.client.SetBaseURL(url)
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Ask sends the question with a rune-primed prompt and returns the answer
// text.
func (c *Client) Ask(ctx context.Context, question string, set runes.RecordSet) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("gemini api key is not set")
	}

	var out generateResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetBody(generateRequest{
			Contents: []content{{Parts: []part{{Text: buildPrompt(question, set)}}}},
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/v1beta/models/%s:generateContent", c.model))
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("gemini status %d", resp.StatusCode())
	}

	answer := firstText(out)
	if answer == "" {
		answer = emptyAnswerFallback
	}
	return answer, nil
}

func firstText(out generateResponse) string {
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text)
}

// buildPrompt primes the model with up to 50 mythic and legendary rune
// names from the current set, when any are cached.
func buildPrompt(question string, set runes.RecordSet) string {
	var names []string
	for _, rec := range set {
		if rec.Grade != gradeMythic && rec.Grade != gradeLegendary {
			continue
		}
		names = append(names, fmt.Sprintf("%s(%s)", rec.Name, rec.Grade))
		if len(names) == maxPromptRunes {
			break
		}
	}
	reference := strings.Join(names, ", ")
	if reference == "" {
		reference = "(데이터 없음)"
	}

	return strings.TrimSpace(fmt.Sprintf(`
너는 '여정&동행 봇'이야. 마비노기 모바일 정보를 친근하게 알려줘.
룬에 관해 물으면 이름/분류/등급/효과를 정확히 설명해.
아래는 신화/전설 일부 목록이야(있으면 참고만 해):
%s

답변은 100자 이내로 자연스럽게. 가끔 어미에 '뇽'을 붙여도 돼.
질문: %s
`, reference, question))
}
