package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Paradize0404/bot-work/internal/upstream"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

// httpExtractor delegates invoice recognition to the external OCR service.
// Recognition quality, prompts and models are that service's business; this
// side only ships photos and takes structured documents back.
type httpExtractor struct {
	url  string
	http *http.Client
}

func newHTTPExtractor(url string) *httpExtractor {
	return &httpExtractor{
		url:  url,
		http: &http.Client{Timeout: 180 * time.Second},
	}
}

type extractRequest struct {
	Photos []string `json:"photos"`
}

type extractResponse struct {
	Documents []workflow.ExtractedDocument `json:"documents"`
	Warnings  []string                     `json:"warnings"`
}

func (e *httpExtractor) Extract(ctx context.Context, photos [][]byte) ([]workflow.ExtractedDocument, []string, error) {
	if e.url == "" {
		return nil, nil, errors.New("ocr: OCR_SERVICE_URL is not configured")
	}

	req := extractRequest{Photos: make([]string, len(photos))}
	for i, p := range photos {
		req.Photos[i] = base64.StdEncoding.EncodeToString(p)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url,
		bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, nil, upstream.NewError("ocr: extract", e.url, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, upstream.NewError("ocr: extract", e.url, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := string(body)
		if len(detail) > 200 {
			detail = detail[:200] + "..."
		}
		return nil, nil, upstream.NewError("ocr: extract", e.url, resp.StatusCode,
			fmt.Errorf("%s", detail))
	}

	var out extractResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, nil, fmt.Errorf("ocr: decode response: %w", err)
	}
	return out.Documents, out.Warnings, nil
}
