// Package intelligence is the client for the speech-to-text and language
// model endpoints. From the pipeline's perspective every call here is a
// single fallible remote operation; the retry engine decides what to do
// with failures.
package intelligence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

type Config struct {
	BaseURL            string
	APIKey             string
	TranscriptionModel string
	CompletionModel    string
	Timeout            time.Duration
}

type Client struct {
	httpClient *http.Client
	cfg        Config
}

type Transcript struct {
	Text            string  `json:"text"`
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"duration"`
}

type Metadata struct {
	Title     string   `json:"title"`
	Attendees []string `json:"attendees"`
}

func NewClient(cfg Config) *Client {
	return &Client{
		// Per-request deadline so a hung collaborator call surfaces as a
		// retryable error instead of stalling the pipeline forever.
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (*Transcript, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, err
	}
	if err := writer.WriteField("model", c.cfg.TranscriptionModel); err != nil {
		return nil, err
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/audio/transcriptions", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription failed with status %d: %s", resp.StatusCode, data)
	}

	var transcript Transcript
	if err := json.NewDecoder(resp.Body).Decode(&transcript); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}
	if transcript.Text == "" {
		return nil, fmt.Errorf("transcription returned empty text")
	}

	return &transcript, nil
}

func (c *Client) ExtractMetadata(ctx context.Context, transcript string) (*Metadata, error) {
	const system = `You extract meeting metadata. Reply with a JSON object: {"title": string, "attendees": [string]}. No prose.`

	content, err := c.chatComplete(ctx, system, transcript)
	if err != nil {
		return nil, fmt.Errorf("extract metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(stripFences(content)), &meta); err != nil {
		return nil, fmt.Errorf("parse metadata reply: %w", err)
	}

	return &meta, nil
}

func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	const system = `You summarize meeting transcripts. Produce a concise summary with key decisions and action items.`

	summary, err := c.chatComplete(ctx, system, transcript)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	return summary, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) chatComplete(ctx context.Context, system, user string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.CompletionModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("completion failed with status %d: %s", resp.StatusCode, data)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
