package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// HuggingFaceBaseURL is the hosted inference API root.
const HuggingFaceBaseURL = "https://api-inference.huggingface.co"

// HuggingFaceAdapter uses the hosted inference endpoint, which answers with
// either a list of generations or a single object.
type HuggingFaceAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewHuggingFaceAdapter returns a Hugging Face adapter. Empty baseURL and
// nil client select the hosted endpoint and http.DefaultClient.
func NewHuggingFaceAdapter(apiKey, baseURL string, client *http.Client) *HuggingFaceAdapter {
	if baseURL == "" {
		baseURL = HuggingFaceBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HuggingFaceAdapter{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *HuggingFaceAdapter) ID() string           { return HuggingFace }
func (a *HuggingFaceAdapter) DefaultModel() string { return DefaultHuggingFaceModel }
func (a *HuggingFaceAdapter) Configured() bool     { return a.apiKey != "" }

// Serves reports whether model is a hub repository id ("org/name").
func (a *HuggingFaceAdapter) Serves(model string) bool { return strings.Contains(model, "/") }

type hfRequest struct {
	Inputs     string `json:"inputs"`
	Parameters struct {
		Temperature    float32 `json:"temperature"`
		MaxNewTokens   int     `json:"max_new_tokens,omitempty"`
		ReturnFullText bool    `json:"return_full_text"`
	} `json:"parameters"`
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
}

// Complete posts the joined prompt to the model's inference endpoint.
func (a *HuggingFaceAdapter) Complete(ctx context.Context, spec CallSpec) (string, error) {
	var req hfRequest
	req.Inputs = joinPrompt(spec)
	req.Parameters.Temperature = spec.Temperature
	req.Parameters.MaxNewTokens = spec.MaxResponseTokens

	var raw json.RawMessage
	headers := map[string]string{"Authorization": "Bearer " + a.apiKey}
	if err := postJSON(ctx, a.client, HuggingFace, a.baseURL+"/models/"+spec.ModelID, headers, req, &raw); err != nil {
		return "", err
	}

	var list []hfGeneration
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return "", &Error{Provider: HuggingFace, Body: "empty generation list"}
		}
		return list[0].GeneratedText, nil
	}

	var single hfGeneration
	if err := json.Unmarshal(raw, &single); err != nil {
		return "", &Error{Provider: HuggingFace, Body: string(raw), Err: err}
	}
	return single.GeneratedText, nil
}
