package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

var bedrockModels = map[string]string{
	"nova-lite":     "us.amazon.nova-2-lite-v1:0",
	"claude-sonnet": "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
}

// Bedrock completes via the Bedrock Converse API. It has no search tool, so
// WebSearch requests are answered from model knowledge only.
type Bedrock struct {
	model  string
	client *bedrockruntime.Client
}

func NewBedrock(ctx context.Context, model, region string) (*Bedrock, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	modelID := bedrockModels[model]
	if modelID == "" {
		modelID = model
	}
	if modelID == "" {
		modelID = bedrockModels["nova-lite"]
	}
	return &Bedrock{
		model:  modelID,
		client: bedrockruntime.NewFromConfig(cfg),
	}, nil
}

func (b *Bedrock) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]types.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := types.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		msgs = append(msgs, types.Message{
			Role: role,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: m.Content},
			},
		})
	}

	resp, err := b.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  aws.String(b.model),
		Messages: msgs,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(req.MaxTokens)),
		},
	})
	if err != nil {
		status := 0
		var re interface{ HTTPStatusCode() int }
		if errors.As(err, &re) {
			status = re.HTTPStatusCode()
		}
		return "", newServiceError("bedrock", status, err)
	}
	return extractConverseText(resp), nil
}

func extractConverseText(resp *bedrockruntime.ConverseOutput) string {
	if resp == nil || resp.Output == nil {
		return ""
	}
	msg, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var parts []string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			parts = append(parts, tb.Value)
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}
