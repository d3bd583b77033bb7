package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/xiaozhi-go/gateway/pkg/asr"
	"github.com/xiaozhi-go/gateway/pkg/codec"
)

type DeepgramASR struct {
	apiKey string
	url    string
}

func NewDeepgramASR(apiKey string) *DeepgramASR {
	return &DeepgramASR{apiKey: apiKey, url: "https://api.deepgram.com/v1/listen"}
}

func (s *DeepgramASR) Name() string { return "deepgram_asr" }

func (s *DeepgramASR) Transcribe(ctx context.Context, pcm []int16, lang string) (asr.Transcript, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return asr.Transcript{}, err
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if lang != "" {
		params.Set("language", lang)
	}
	u.RawQuery = params.Encode()

	raw := codec.PCMToBytes(pcm)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(raw))
	if err != nil {
		return asr.Transcript{}, err
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=%d", codec.SampleRate, codec.Channels))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return asr.Transcript{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return asr.Transcript{}, fmt.Errorf("asr: deepgram error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return asr.Transcript{}, err
	}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return asr.Transcript{}, nil
	}
	return asr.ParseTranscript(result.Results.Channels[0].Alternatives[0].Transcript), nil
}
