package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"verbapost/internal/pkg/httpclient"
)

const openAIService = "openai"

// OpenAITranscriptionAdapter 是 port.TranscriptionService 的 OpenAI 实现：
// Whisper 负责转写，chat completions 负责润色。
type OpenAITranscriptionAdapter struct {
	client      *httpclient.Client
	baseURL     string
	apiKey      string
	model       string
	polishModel string
}

func NewOpenAITranscriptionAdapter(client *httpclient.Client, baseURL, apiKey, model, polishModel string) *OpenAITranscriptionAdapter {
	return &OpenAITranscriptionAdapter{
		client:      client,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		polishModel: polishModel,
	}
}

func (a *OpenAITranscriptionAdapter) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	if filename == "" {
		filename = "recording.webm"
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	_ = mw.WriteField("model", a.model)
	_ = mw.WriteField("response_format", "json")
	if code := languageCode(language); code != "" {
		_ = mw.WriteField("language", code)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	payload := body.Bytes()
	contentType := mw.FormDataContentType()

	data, err := a.client.Do(ctx, openAIService, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/audio/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return "", errors.Wrap(err, "transcribe audio")
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", errors.Wrap(err, "decode transcription")
	}
	return strings.TrimSpace(resp.Text), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const polishPrompt = "You are a careful copy editor. Fix grammar, spelling and punctuation in the letter below, " +
	"which is written in %s. Keep the author's voice, meaning and paragraphing. Reply with the corrected letter only."

func (a *OpenAITranscriptionAdapter) Polish(ctx context.Context, text, language string) (string, error) {
	if language == "" {
		language = "English"
	}
	req := chatRequest{
		Model: a.polishModel,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(polishPrompt, language)},
			{Role: "user", Content: text},
		},
		Temperature: 0.2,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.apiKey)

	var resp chatResponse
	if err := a.client.PostJSON(ctx, openAIService, a.baseURL+"/chat/completions", header, req, &resp); err != nil {
		return "", errors.Wrap(err, "polish text")
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("polish returned no text")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
