package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codyseavey/slab-market/internal/config"
	"github.com/codyseavey/slab-market/internal/logger"
	"github.com/codyseavey/slab-market/internal/metrics"
	"github.com/codyseavey/slab-market/internal/models"
)

const (
	geminiDefaultModel   = "gemini-2.0-flash"
	geminiAPIURL         = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
	geminiDefaultTimeout = 20 * time.Second
)

// GeminiSaleFilter asks Gemini which candidate listings are the target card
type GeminiSaleFilter struct {
	apiKey     string
	model      string
	apiURL     string // format string taking the model name
	httpClient *http.Client
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenConfig struct {
	ResponseMimeType   string                 `json:"responseMimeType"`
	ResponseJSONSchema map[string]interface{} `json:"responseJsonSchema"`
	Temperature        float64                `json:"temperature"`
	MaxOutputTokens    int                    `json:"maxOutputTokens"`
}

type geminiAPIResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// geminiFilterResponse is the structured answer requested from Gemini
type geminiFilterResponse struct {
	AcceptedIndices []int  `json:"accepted_indices"`
	Reasoning       string `json:"reasoning"`
}

var filterResponseSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"accepted_indices": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "integer"},
		},
		"reasoning": map[string]interface{}{"type": "string"},
	},
	"required": []string{"accepted_indices"},
}

const geminiFilterPrompt = `You are a sports and trading card market analyst. Decide which sold listings are the exact card described below.

TARGET CARD: %s

RULES:
- Reject a listing graded by a different company or at a different grade
- Reject different parallels, refractors or colors than the target variant
- Reject listings numbered to a different print run
- Reject lots, reprints, custom cards and "you pick" listings
- Reject autographed copies unless the target is autographed, and vice versa
- When unsure, reject

LISTINGS (index: title | price):
%s
Return the indices of the listings that are the target card.`

func NewGeminiSaleFilter(cfg config.GeminiConfig) *GeminiSaleFilter {
	apiKey := cfg.ResolveAPIKey()
	model := cfg.Model
	if model == "" {
		model = geminiDefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = geminiDefaultTimeout
	}

	f := &GeminiSaleFilter{
		apiKey:     apiKey,
		model:      model,
		apiURL:     geminiAPIURL,
		httpClient: &http.Client{Timeout: timeout},
	}

	if f.IsEnabled() {
		// Only log the first few characters of the key
		keyPreview := apiKey
		if len(keyPreview) > 10 {
			keyPreview = keyPreview[:10] + "..."
		}
		logger.Info("Gemini sale filter enabled", zap.String("model", model), zap.String("key", keyPreview))
	} else {
		logger.Info("Gemini sale filter disabled (no gemini.api_key)")
	}
	return f
}

// IsEnabled reports whether an API key is configured
func (f *GeminiSaleFilter) IsEnabled() bool {
	return f.apiKey != ""
}

// Filter returns the listings Gemini confirms as the target card, in their
// original order. Every failure is an *AIFilterError carrying a reason code.
func (f *GeminiSaleFilter) Filter(ctx context.Context, req FilterRequest) ([]models.RawListing, error) {
	if !f.IsEnabled() {
		return nil, aiError(AIReasonNotConfigured, nil)
	}
	if len(req.Listings) == 0 {
		return nil, aiError(AIReasonNoCandidates, nil)
	}

	var listings strings.Builder
	for i, l := range req.Listings {
		fmt.Fprintf(&listings, "%d: %s | $%.2f\n", i, l.Title, l.Price)
	}
	prompt := fmt.Sprintf(geminiFilterPrompt, req.Target.Description(req.Card), listings.String())

	body := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenConfig{
			ResponseMimeType:   "application/json",
			ResponseJSONSchema: filterResponseSchema,
			Temperature:        0.1,
			MaxOutputTokens:    1000,
		},
	}
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return nil, aiError(AIReasonBadResponse, fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf(f.apiURL, f.model) + "?key=" + f.apiKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, aiError(AIReasonNetwork, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		metrics.GeminiErrorsTotal.WithLabelValues("network").Inc()
		return nil, aiError(AIReasonNetwork, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	latency := time.Since(startTime)
	metrics.GeminiAPILatency.Observe(latency.Seconds())

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.GeminiErrorsTotal.WithLabelValues("read").Inc()
		return nil, aiError(AIReasonNetwork, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		metrics.GeminiErrorsTotal.WithLabelValues("api").Inc()
		logger.DebugCtx(ctx, "Gemini API error", zap.Int("status", resp.StatusCode), zap.ByteString("body", respBody))
		return nil, aiError(AIReasonUpstream, fmt.Errorf("API returned status %d", resp.StatusCode))
	}

	var apiResp geminiAPIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		metrics.GeminiErrorsTotal.WithLabelValues("parse").Inc()
		return nil, aiError(AIReasonBadResponse, fmt.Errorf("failed to parse API response: %w", err))
	}
	if apiResp.Error != nil {
		metrics.GeminiErrorsTotal.WithLabelValues("api").Inc()
		return nil, aiError(AIReasonUpstream, fmt.Errorf("API error %d: %s", apiResp.Error.Code, apiResp.Error.Message))
	}
	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		metrics.GeminiErrorsTotal.WithLabelValues("empty").Inc()
		return nil, aiError(AIReasonBadResponse, fmt.Errorf("no response from Gemini"))
	}

	responseText := apiResp.Candidates[0].Content.Parts[0].Text
	var filterResp geminiFilterResponse
	if err := json.Unmarshal([]byte(responseText), &filterResp); err != nil {
		metrics.GeminiErrorsTotal.WithLabelValues("schema").Inc()
		return nil, aiError(AIReasonBadResponse, fmt.Errorf("failed to parse filter response: %w", err))
	}

	accepted := make(map[int]bool, len(filterResp.AcceptedIndices))
	for _, idx := range filterResp.AcceptedIndices {
		if idx < 0 || idx >= len(req.Listings) {
			metrics.GeminiErrorsTotal.WithLabelValues("schema").Inc()
			return nil, aiError(AIReasonBadResponse, fmt.Errorf("index %d out of range", idx))
		}
		accepted[idx] = true
	}

	indices := make([]int, 0, len(accepted))
	for idx := range accepted {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	kept := make([]models.RawListing, 0, len(indices))
	for _, idx := range indices {
		kept = append(kept, req.Listings[idx])
	}

	metrics.GeminiRequestsTotal.Inc()
	logger.InfoCtx(ctx, "Gemini filtered listings",
		zap.String("item_id", itemID(req.Card)),
		zap.Int("candidates", len(req.Listings)),
		zap.Int("accepted", len(kept)),
		zap.Duration("latency", latency))
	return kept, nil
}
