package bedrock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/MrWong99/intakecall/pkg/provider/llm"
	"github.com/MrWong99/intakecall/pkg/types"
)

const testModel = "anthropic.claude-3-5-haiku-20241022-v1:0"

func staticCreds() aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
	})
}

func TestComplete_SignedInvoke(t *testing.T) {
	var (
		path string
		auth string
		body invokeRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content": [{"type": "text", "text": "Got it. "}, {"type": "text", "text": "What is your email address?"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 30, "output_tokens": 9}
		}`))
	}))
	defer srv.Close()

	p, err := New(context.Background(), testModel,
		WithBaseURL(srv.URL),
		WithRegion("us-west-2"),
		WithCredentials(staticCreds()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are a legal intake specialist.",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "555 123 4567"}},
		Temperature:  0.2,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Content != "Got it. What is your email address?" {
		t.Errorf("content: got %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 39 {
		t.Errorf("total tokens: got %d, want 39", resp.Usage.TotalTokens)
	}
	if path != "/model/"+testModel+"/invoke" {
		t.Errorf("path: got %q", path)
	}
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/") || !strings.Contains(auth, "/us-west-2/bedrock/aws4_request") {
		t.Errorf("Authorization: got %q", auth)
	}
	if body.AnthropicVersion != "bedrock-2023-05-31" {
		t.Errorf("anthropic_version: got %q", body.AnthropicVersion)
	}
	if body.MaxTokens != defaultMaxTokens {
		t.Errorf("max_tokens: got %d", body.MaxTokens)
	}
	if body.System != "You are a legal intake specialist." {
		t.Errorf("system: got %q", body.System)
	}
	if body.Temperature == nil || *body.Temperature != 0.2 {
		t.Errorf("temperature: got %v", body.Temperature)
	}
}

func TestComplete_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"throttled"}`))
	}))
	defer srv.Close()

	p, _ := New(context.Background(), testModel, WithBaseURL(srv.URL), WithCredentials(staticCreds()))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected 429 error, got %v", err)
	}
}

func TestBuildRequest_NormalisesTurns(t *testing.T) {
	p := &Provider{maxTokens: defaultMaxTokens}
	got := p.buildRequest(llm.CompletionRequest{
		SystemPrompt: "base",
		MaxTokens:    80,
		Messages: []types.Message{
			{Role: types.RoleAssistant, Content: "Hello, thanks for calling."},
			{Role: types.RoleSystem, Content: "extra"},
			{Role: types.RoleUser, Content: "Hi."},
			{Role: types.RoleUser, Content: "I was fired."},
			{Role: types.RoleAssistant, Content: "I'm sorry to hear that."},
		},
	})

	if got.System != "base\n\nextra" {
		t.Errorf("system: got %q", got.System)
	}
	if got.MaxTokens != 80 {
		t.Errorf("max_tokens: got %d", got.MaxTokens)
	}
	want := []message{
		{Role: types.RoleUser, Content: "Hi.\nI was fired."},
		{Role: types.RoleAssistant, Content: "I'm sorry to hear that."},
	}
	if len(got.Messages) != len(want) {
		t.Fatalf("messages: got %+v", got.Messages)
	}
	for i := range want {
		if got.Messages[i] != want[i] {
			t.Errorf("message %d: got %+v, want %+v", i, got.Messages[i], want[i])
		}
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New(context.Background(), "", WithCredentials(staticCreds())); err == nil {
		t.Fatal("expected error for empty model")
	}
}
