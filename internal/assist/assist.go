// Package assist is the built-in chat assistant: a thin client for the
// Gemini generateContent API that answers messages sent to the assistant
// contact. When the API is unreachable or misconfigured the caller gets a
// canned apology instead of an error surface in the chat.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultModel follows the hosted assistant.
	DefaultModel = "gemini-3-flash-preview"
	// DefaultEndpoint is the Gemini REST base URL.
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"

	systemInstruction = "You are Gemini Assistant, a helpful and friendly chatbot inside a messaging app. Keep your responses relatively concise, similar to how people chat on WhatsApp. Use emojis occasionally."

	// Fallback is returned to the user when the model can't answer.
	Fallback = "Sorry, I'm having trouble thinking right now. Could you repeat that?"

	temperature = 0.7
	historySize = 20
)

// Client talks to the Gemini API and keeps a short rolling conversation
// history so replies stay in context.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	http     *http.Client

	mu      sync.Mutex
	history []turn
}

type turn struct {
	Role  string `json:"role"` // "user" or "model"
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// NewClient creates a client. Empty model or endpoint pick the defaults.
func NewClient(apiKey, model, endpoint string) *Client {
	if model == "" {
		model = DefaultModel
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type generateRequest struct {
	Contents          []turn          `json:"contents"`
	SystemInstruction *turn           `json:"systemInstruction,omitempty"`
	GenerationConfig  *generateConfig `json:"generationConfig,omitempty"`
}

type generateConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content turn `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Reply answers one user message. Errors are logged and swallowed into the
// fallback text so the chat always gets an answer.
func (c *Client) Reply(ctx context.Context, prompt string) (string, error) {
	text, err := c.generate(ctx, prompt)
	if err != nil {
		log.Printf("ASSIST: %v", err)
		return Fallback, nil
	}
	c.remember(prompt, text)
	return text, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("no API key configured")
	}

	c.mu.Lock()
	contents := make([]turn, len(c.history), len(c.history)+1)
	copy(contents, c.history)
	c.mu.Unlock()
	contents = append(contents, turn{Role: "user", Parts: []part{{Text: prompt}}})

	body, err := json.Marshal(generateRequest{
		Contents:          contents,
		SystemInstruction: &turn{Parts: []part{{Text: systemInstruction}}},
		GenerationConfig:  &generateConfig{Temperature: temperature},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("generateContent: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil {
			return "", fmt.Errorf("generateContent: %s (%d)", out.Error.Message, resp.StatusCode)
		}
		return "", fmt.Errorf("generateContent: status %d", resp.StatusCode)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("generateContent: empty response")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

func (c *Client) remember(prompt, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history,
		turn{Role: "user", Parts: []part{{Text: prompt}}},
		turn{Role: "model", Parts: []part{{Text: reply}}},
	)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}
}
