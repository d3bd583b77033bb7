// Package asr provides concrete ASR Session (C3) Provider implementations:
// Groq, OpenAI, Deepgram and AssemblyAI, each adapted from the teacher's
// pkg/providers/stt/*.go HTTP clients to the pkg/asr.Provider contract
// (int16 PCM + asr.Transcript instead of raw bytes + a bare string).
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

type GroqASR struct {
	apiKey string
	url    string
	model  string
}

func NewGroqASR(apiKey, model string) *GroqASR {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqASR{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/audio/transcriptions",
		model:  model,
	}
}

func (s *GroqASR) Name() string { return "groq_asr" }

func (s *GroqASR) Transcribe(ctx context.Context, pcm []int16, lang string) (asr.Transcript, error) {
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
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
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
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return asr.Transcript{}, fmt.Errorf("asr: groq error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return asr.Transcript{}, err
	}
	return asr.ParseTranscript(result.Text), nil
}
