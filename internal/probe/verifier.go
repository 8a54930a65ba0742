package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"modelprobe/pkg/types"
)

const maxResponseChars = 512

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// VerifierConfig tunes the functional probe. Zero values take defaults.
type VerifierConfig struct {
	Host      string
	Timeout   time.Duration
	MaxTokens int
	Prompt    string
}

// Verifier sends one chat completion to a ready backend.
type Verifier struct {
	cfg    VerifierConfig
	client *http.Client
	log    zerolog.Logger
}

// NewVerifier builds a Verifier. A nil client uses one without a global
// timeout; the request deadline comes from cfg.Timeout.
func NewVerifier(cfg VerifierConfig, client *http.Client, log zerolog.Logger) *Verifier {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 16
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = "Reply with the single word: ready."
	}
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &Verifier{cfg: cfg, client: client, log: log}
}

// Verify reports whether the backend on spec.Port produced non-empty output.
func (v *Verifier) Verify(ctx context.Context, spec types.ModelSpec) types.FunctionalResult {
	res := types.FunctionalResult{Attempted: true}
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	body, _ := json.Marshal(chatCompletionRequest{
		Model:       spec.ID,
		Messages:    []chatMessage{{Role: "user", Content: v.cfg.Prompt}},
		MaxTokens:   v.cfg.MaxTokens,
		Temperature: 0,
	})
	url := "http://" + v.cfg.Host + ":" + strconv.Itoa(spec.Port) + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := v.client.Do(req)
	res.LatencySeconds = time.Since(start).Seconds()
	if err != nil {
		res.Error = err.Error()
		v.log.Warn().Err(err).Str("model", spec.ID).Msg("chat completion failed")
		return res
	}
	defer resp.Body.Close()
	res.StatusCode = resp.StatusCode
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	res.LatencySeconds = time.Since(start).Seconds()
	if err != nil {
		res.Error = fmt.Sprintf("read response: %v", err)
		return res
	}
	if resp.StatusCode != http.StatusOK {
		res.Error = fmt.Sprintf("chat completion http %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(raw)), maxResponseChars))
		return res
	}
	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		res.Error = fmt.Sprintf("decode response: %v", err)
		return res
	}
	if len(out.Choices) == 0 {
		res.Error = "response has no choices"
		return res
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		res.Error = "empty completion content"
		return res
	}
	res.Success = true
	res.Response = truncate(content, maxResponseChars)
	v.log.Info().Str("model", spec.ID).Float64("latency_s", res.LatencySeconds).Msg("chat completion ok")
	return res
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
