package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"civicease-backend/internal/library"
	"civicease-backend/internal/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements llm.Client using the Gemini generateContent API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new Gemini client.
func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required: %w", llm.ErrCredentials)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for Gemini")
	}
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("GEMINI_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      *float32       `json:"temperature,omitempty"`
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// rawAnalysis mirrors the JSON shape requested from the model. Pointers
// distinguish missing keys from empty values.
type rawAnalysis struct {
	Summary     *string   `json:"summary"`
	Urgency     *string   `json:"urgency"`
	ActionSteps *[]string `json:"action_steps"`
	DraftReply  *string   `json:"draft_reply"`
}

// Analyze sends the document image with the analysis prompt and validates the
// structured response. It either returns a complete result or an error.
func (c *Client) Analyze(ctx context.Context, imageData []byte, mimeType string) (library.AnalysisResult, error) {
	temp := float32(0)
	req := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: analysisInstruction}}},
		Contents: []content{{
			Role: "user",
			Parts: []part{
				imagePart(imageData, mimeType),
				{Text: analysisPrompt},
			},
		}},
		GenerationConfig: &generationConfig{
			Temperature:      &temp,
			ResponseMIMEType: "application/json",
			ResponseSchema:   analysisSchema(),
		},
	}

	text, err := c.generate(ctx, req)
	if err != nil {
		return library.AnalysisResult{}, err
	}

	var parsed rawAnalysis
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return library.AnalysisResult{}, fmt.Errorf("%w: %v", llm.ErrMalformedOutput, err)
	}
	if parsed.Summary == nil || parsed.Urgency == nil || parsed.ActionSteps == nil || parsed.DraftReply == nil {
		return library.AnalysisResult{}, fmt.Errorf("%w: missing required fields", llm.ErrMalformedOutput)
	}
	if strings.TrimSpace(*parsed.Summary) == "" {
		return library.AnalysisResult{}, fmt.Errorf("%w: empty summary", llm.ErrMalformedOutput)
	}

	steps := *parsed.ActionSteps
	if steps == nil {
		steps = []string{}
	}
	return library.AnalysisResult{
		Summary:     *parsed.Summary,
		Urgency:     library.ParseUrgency(*parsed.Urgency),
		ActionSteps: steps,
		DraftReply:  *parsed.DraftReply,
	}, nil
}

// Chat sends a follow-up turn. The document image rides only the first user
// turn; resumed history and the new message carry text only.
func (c *Client) Chat(ctx context.Context, imageData []byte, mimeType string, history []library.ChatMessage, message string) (string, error) {
	contents := make([]content, 0, len(history)+2)
	contents = append(contents, content{
		Role: "user",
		Parts: []part{
			imagePart(imageData, mimeType),
			{Text: chatGrounding},
		},
	})
	for _, msg := range history {
		role := "user"
		if msg.Role == library.RoleModel {
			role = "model"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: msg.Text}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: message}}})

	req := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: chatInstruction}}},
		Contents:          contents,
	}

	text, err := c.generate(ctx, req)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) generate(ctx context.Context, reqBody generateRequest) (string, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return "", fmt.Errorf("gemini request timeout: %w", err)
		}
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("gemini response parse: %w", err)
	}
	if parsed.Error != nil {
		if isCredentialError(resp.StatusCode, parsed.Error) {
			return "", fmt.Errorf("%w: %s", llm.ErrCredentials, parsed.Error.Message)
		}
		return "", fmt.Errorf("gemini error: %s (%s)", parsed.Error.Message, parsed.Error.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini http status %d", resp.StatusCode)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("%w: response missing candidates", llm.ErrMalformedOutput)
	}

	var b strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty content", llm.ErrMalformedOutput)
	}
	return text, nil
}

func imagePart(imageData []byte, mimeType string) part {
	return part{InlineData: &inlineData{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(imageData),
	}}
}

func isCredentialError(status int, apiErr *apiError) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	switch apiErr.Status {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "api key")
}

var _ llm.Client = (*Client)(nil)
