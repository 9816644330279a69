// Package bedrock implements event extraction and paid activity
// classification on AWS Bedrock (Anthropic models).
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/hearthkit/family-sync/internal/pkg/logger"
	"github.com/hearthkit/family-sync/internal/provider"
)

const anthropicVersion = "bedrock-2023-05-31"

// Default model ids.
const (
	DefaultExtractModel  = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	DefaultClassifyModel = "anthropic.claude-3-haiku-20240307-v1:0"
)

// Invoker is the slice of the Bedrock runtime client this package uses.
// *bedrockruntime.Client satisfies it.
type Invoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Message is one turn in Anthropic messages format.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a text or image block.
type ContentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource carries an inline base64 image.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type request struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system,omitempty"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature"`
}

type response struct {
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

// NewRuntime loads the default AWS config for region and returns a runtime
// client.
func NewRuntime(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

// invoke sends one single-turn request and returns the concatenated text.
func invoke(ctx context.Context, inv Invoker, modelID, system string, content []ContentBlock, maxTokens int) (string, error) {
	body, err := json.Marshal(request{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		System:           system,
		Messages:         []Message{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := inv.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", mapError(err)
	}

	var resp response
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	var sb strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	logger.Debug("bedrock invoke",
		"model", modelID,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason)
	return sb.String(), nil
}

func mapError(err error) error {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return fmt.Errorf("%w: %v", provider.ErrRateLimited, err)
	}
	var timeout *types.ModelTimeoutException
	if errors.As(err, &timeout) {
		return fmt.Errorf("%w: %v", provider.ErrTimeout, err)
	}
	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return fmt.Errorf("%w: %v", provider.ErrForbidden, err)
	}
	return fmt.Errorf("bedrock API error: %w", err)
}

// jsonPayload cuts the outermost JSON value delimited by opening and
// closing out of a model answer that may wrap it in prose or a code fence.
func jsonPayload(text string, opening, closing byte) (string, error) {
	start := strings.IndexByte(text, opening)
	end := strings.LastIndexByte(text, closing)
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON %c...%c in model output", opening, closing)
	}
	return text[start : end+1], nil
}
