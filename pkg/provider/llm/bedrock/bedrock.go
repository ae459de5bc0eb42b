// Package bedrock provides an LLM provider for Anthropic models hosted on
// AWS Bedrock. Requests use the Anthropic messages body and are signed with
// SigV4 using credentials from the default AWS chain (environment, shared
// config, IRSA or instance profile).
package bedrock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/MrWong99/intakecall/pkg/provider/llm"
	"github.com/MrWong99/intakecall/pkg/types"
)

const (
	defaultRegion    = "us-east-1"
	defaultMaxTokens = 300
	anthropicVersion = "bedrock-2023-05-31"
	signingService   = "bedrock"
)

var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Bedrock Provider.
type Option func(*Provider)

// WithRegion sets the AWS region. Defaults to us-east-1.
func WithRegion(region string) Option {
	return func(p *Provider) {
		p.region = region
	}
}

// WithBaseURL overrides the bedrock-runtime endpoint.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithCredentials sets an explicit credentials provider instead of loading
// the default chain.
func WithCredentials(creds aws.CredentialsProvider) Option {
	return func(p *Provider) {
		p.creds = creds
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithMaxTokens sets the default completion cap used when a request does not
// specify one. Bedrock requires max_tokens on every call.
func WithMaxTokens(n int) Option {
	return func(p *Provider) {
		p.maxTokens = n
	}
}

// Provider implements llm.Provider by invoking Anthropic models on Bedrock.
type Provider struct {
	model      string
	region     string
	baseURL    string
	maxTokens  int
	creds      aws.CredentialsProvider
	signer     *v4.Signer
	httpClient *http.Client
	now        func() time.Time
}

// New creates a Bedrock provider for the given model ID (for example
// "anthropic.claude-3-5-haiku-20241022-v1:0").
func New(ctx context.Context, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("bedrock: model must not be empty")
	}
	p := &Provider{
		model:      model,
		region:     defaultRegion,
		maxTokens:  defaultMaxTokens,
		signer:     v4.NewSigner(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.baseURL == "" {
		p.baseURL = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", p.region)
	}
	if p.creds == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
		if err != nil {
			return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
		}
		p.creds = cfg.Credentials
	}
	return p, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
	Temperature      *float64  `json:"temperature,omitempty"`
}

type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal: %w", err)
	}

	endpoint, err := p.invokeURL()
	if err != nil {
		return nil, fmt.Errorf("bedrock: build URL: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("bedrock: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	creds, err := p.creds.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("bedrock: retrieve credentials: %w", err)
	}
	sum := sha256.Sum256(body)
	if err := p.signer.SignHTTP(ctx, creds, httpReq, hex.EncodeToString(sum[:]), signingService, p.region, p.now()); err != nil {
		return nil, fmt.Errorf("bedrock: sign request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bedrock: invoke: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bedrock: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("bedrock: decode response: %w", err)
	}
	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, fmt.Errorf("bedrock: %w", llm.ErrEmptyReply)
	}
	return &llm.CompletionResponse{
		Content: text.String(),
		Usage: types.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}

// invokeURL escapes the colon in versioned model IDs so the signed path
// matches the one Bedrock canonicalises.
func (p *Provider) invokeURL() (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(u.Path, "/")
	u.Path = base + "/model/" + p.model + "/invoke"
	u.RawPath = base + "/model/" + strings.ReplaceAll(url.PathEscape(p.model), ":", "%3A") + "/invoke"
	return u.String(), nil
}

// buildRequest maps the conversation onto the Anthropic messages shape: the
// system prompt and system-role messages move to the system field, leading
// assistant turns are dropped, and consecutive same-role turns are merged.
func (p *Provider) buildRequest(req llm.CompletionRequest) invokeRequest {
	out := invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        p.maxTokens,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature != 0 {
		t := req.Temperature
		out.Temperature = &t
	}

	system := []string{}
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem:
			system = append(system, m.Content)
			continue
		case types.RoleAssistant:
			if len(out.Messages) == 0 {
				continue
			}
		}
		if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == m.Role {
			out.Messages[n-1].Content += "\n" + m.Content
			continue
		}
		out.Messages = append(out.Messages, message{Role: m.Role, Content: m.Content})
	}
	out.System = strings.Join(system, "\n\n")
	return out
}
