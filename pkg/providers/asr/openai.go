package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/xiaozhi-go/gateway/pkg/asr"
	"github.com/xiaozhi-go/gateway/pkg/audio"
	"github.com/xiaozhi-go/gateway/pkg/codec"
)

type OpenAIASR struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAIASR(apiKey, model string) *OpenAIASR {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAIASR{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/audio/transcriptions",
		model:  model,
	}
}

func (s *OpenAIASR) Name() string { return "openai_asr" }

func (s *OpenAIASR) Transcribe(ctx context.Context, pcm []int16, lang string) (asr.Transcript, error) {
	wavData := audio.NewWavBuffer(codec.PCMToBytes(pcm), codec.SampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", s.model); err != nil {
		return asr.Transcript{}, err
	}
	if lang != "" {
		if err := writer.WriteField("language", lang); err != nil {
			return asr.Transcript{}, err
		}
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return asr.Transcript{}, err
	}
	if _, err := part.Write(wavData); err != nil {
		return asr.Transcript{}, err
	}
	if err := writer.Close(); err != nil {
		return asr.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return asr.Transcript{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return asr.Transcript{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return asr.Transcript{}, fmt.Errorf("asr: openai error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return asr.Transcript{}, err
	}
	return asr.ParseTranscript(result.Text), nil
}
