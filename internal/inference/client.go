package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"lingopipe/internal/domain/usecase"
)

// Client talks to the model-serving service over HTTP. One host serves all
// three model families; requests are long-running, so the timeout is per
// pipeline stage rather than per HTTP default.
type Client struct {
	BaseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		BaseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Transcribe(ctx context.Context, audioPath, languageHint string) (usecase.Transcription, error) {
	var tr usecase.Transcription

	f, err := os.Open(audioPath)
	if err != nil {
		return tr, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return tr, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return tr, fmt.Errorf("copy audio: %w", err)
	}
	if languageHint != "" {
		if err := mw.WriteField("language", languageHint); err != nil {
			return tr, err
		}
	}
	if err := mw.Close(); err != nil {
		return tr, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/transcribe", body)
	if err != nil {
		return tr, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if err := c.do(req, &tr); err != nil {
		return tr, err
	}
	return tr, nil
}

func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	payload := map[string]string{
		"text":        text,
		"source_lang": sourceLang,
		"target_lang": targetLang,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/translate", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		TranslatedText string `json:"translated_text"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.TranslatedText, nil
}

// Synthesize streams the generated audio straight to outputPath.
func (c *Client) Synthesize(ctx context.Context, text, language, outputPath string) error {
	payload := map[string]string{
		"text":     text,
		"language": language,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/synthesize", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return decodeError(res)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, res.Body); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request, v any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return decodeError(res)
	}
	return json.NewDecoder(res.Body).Decode(v)
}

func decodeError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("inference service: %s (status %d)", apiErr.Error, res.StatusCode)
	}
	return fmt.Errorf("inference service: status %d: %s", res.StatusCode, string(body))
}
