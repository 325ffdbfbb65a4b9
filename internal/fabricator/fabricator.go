// Package fabricator produces plausible synthetic members with a local
// Ollama chat model.
//
// Each call sends one prompt and constrains the reply to a JSON schema of
// the member record. The reply is decoded strictly: unknown keys, missing
// attributes or malformed dates are errors, never silently patched.
package fabricator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/JonMunkholm/membergen/internal/logging"
	"github.com/ollama/ollama/api"
)

const (
	DefaultHost  = "http://localhost:11434"
	DefaultModel = "llama3.1"
)

// Config configures an Ollama-backed Fabricator.
type Config struct {
	Host  string
	Model string
	// Timeout bounds a single chat call. Zero means no client timeout;
	// the request context still applies.
	Timeout time.Duration
}

// chatClient is the part of *api.Client the fabricator uses.
type chatClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// Fabricator implements core.Fabricator.
type Fabricator struct {
	client chatClient
	model  string
}

var _ core.Fabricator = (*Fabricator)(nil)

// New creates a Fabricator talking to the Ollama server at cfg.Host.
func New(cfg Config) (*Fabricator, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	base, err := url.Parse(host)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ollama host %q", host)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	client := api.NewClient(base, &http.Client{Timeout: cfg.Timeout})
	return &Fabricator{client: client, model: model}, nil
}

// Model returns the chat model in use.
func (f *Fabricator) Model() string { return f.model }

// Fabricate asks the model for one member record. The result has no ID and
// no coordinates.
func (f *Fabricator) Fabricate(ctx context.Context, params core.FabricationParams) (core.Member, error) {
	stream := false
	req := &api.ChatRequest{
		Model: f.model,
		Messages: []api.Message{
			{Role: "user", Content: Prompt(params)},
		},
		Stream: &stream,
		Format: memberSchema,
	}

	var content strings.Builder
	err := f.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return core.Member{}, fmt.Errorf("ollama chat: %w", err)
	}

	m, err := decodeMember([]byte(content.String()))
	if err != nil {
		logging.FromContext(ctx).Debug("unusable model reply",
			"model", f.model,
			"content", content.String(),
			"error", err,
		)
		return core.Member{}, err
	}
	return m, nil
}

// Prompt renders the instruction sent for one member.
func Prompt(p core.FabricationParams) string {
	return fmt.Sprintf(
		"Get the data for this fictitious group member from the city of %s, %s. Their age should be between %d and %d years old.",
		p.City, p.Country, p.MinAge, p.MaxAge,
	)
}

// record mirrors memberSchema.
type record struct {
	DateMemberJoinedGroup string `json:"date_member_joined_group"`
	FirstName             string `json:"first_name"`
	Surname               string `json:"surname"`
	Birthday              string `json:"birthday"`
	PhoneNumber           string `json:"phone_number"`
	Email                 string `json:"email"`
	Address               string `json:"address"`
}

// decodeMember parses a model reply into a member.
func decodeMember(content []byte) (core.Member, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(content)))
	dec.DisallowUnknownFields()

	var rec record
	if err := dec.Decode(&rec); err != nil {
		return core.Member{}, fmt.Errorf("decode model reply: %w", err)
	}
	if dec.More() {
		return core.Member{}, errors.New("decode model reply: trailing data after record")
	}

	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"date_member_joined_group", rec.DateMemberJoinedGroup},
		{"first_name", rec.FirstName},
		{"surname", rec.Surname},
		{"birthday", rec.Birthday},
		{"phone_number", rec.PhoneNumber},
		{"email", rec.Email},
		{"address", rec.Address},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return core.Member{}, fmt.Errorf("decode model reply: missing %s", strings.Join(missing, ", "))
	}

	joined, err := core.ParseDate(rec.DateMemberJoinedGroup)
	if err != nil {
		return core.Member{}, fmt.Errorf("decode model reply: date_member_joined_group: %w", err)
	}
	birthday, err := core.ParseDate(rec.Birthday)
	if err != nil {
		return core.Member{}, fmt.Errorf("decode model reply: birthday: %w", err)
	}

	return core.Member{
		DateMemberJoinedGroup: joined,
		FirstName:             strings.TrimSpace(rec.FirstName),
		Surname:               strings.TrimSpace(rec.Surname),
		Birthday:              birthday,
		PhoneNumber:           strings.TrimSpace(rec.PhoneNumber),
		Email:                 strings.TrimSpace(rec.Email),
		Address:               strings.TrimSpace(rec.Address),
	}, nil
}
