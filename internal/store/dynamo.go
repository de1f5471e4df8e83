package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/apresai/newsdesk/internal/pipeline"
	"github.com/apresai/newsdesk/internal/quality"
)

const (
	episodePKPrefix = "EPISODE#"
	metadataSK      = "METADATA"
	episodesGSI1PK  = "EPISODES"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// episodeItem is the DynamoDB record for an episode. The date is the
// partition key, so a date has at most one item.
type episodeItem struct {
	PK              string `dynamodbav:"PK"`
	SK              string `dynamodbav:"SK"`
	GSI1PK          string `dynamodbav:"GSI1PK"`
	GSI1SK          string `dynamodbav:"GSI1SK"`
	EpisodeID       string `dynamodbav:"episodeId"`
	Date            string `dynamodbav:"date"`
	Status          string `dynamodbav:"status"`
	Research        string `dynamodbav:"research,omitempty"`
	Summary         string `dynamodbav:"summary,omitempty"`
	Script          string `dynamodbav:"script,omitempty"`
	ValidationsJSON string `dynamodbav:"validationsJson,omitempty"`
	Editor          bool   `dynamodbav:"editor"`
	Provider        string `dynamodbav:"provider,omitempty"`
	Model           string `dynamodbav:"model,omitempty"`
	ScriptURL       string `dynamodbav:"scriptUrl,omitempty"`
	ErrorMessage    string `dynamodbav:"errorMessage,omitempty"`
	CreatedAt       string `dynamodbav:"createdAt"`
	UpdatedAt       string `dynamodbav:"updatedAt"`
}

// Dynamo stores episodes in a single DynamoDB table with a GSI1 index
// ordered by date.
type Dynamo struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// NewDynamo creates a DynamoDB store.
func NewDynamo(client DynamoAPI, tableName string) *Dynamo {
	return &Dynamo{client: client, tableName: tableName, now: time.Now}
}

func episodeKey(date string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: episodePKPrefix + date},
		"SK": &types.AttributeValueMemberS{Value: metadataSK},
	}
}

// attr is one SET clause of an update.
type attr struct {
	name  string
	value any
}

// Save creates or overwrites the episode for ep.Date.
func (d *Dynamo) Save(ctx context.Context, ep *pipeline.Episode) (SaveResult, error) {
	validations, err := json.Marshal(ep.Validations)
	if err != nil {
		return SaveResult{}, fmt.Errorf("marshal validations: %w", err)
	}
	return d.upsert(ctx, ep.Date, []attr{
		{"status", string(StatusComplete)},
		{"research", ep.Research},
		{"summary", ep.Summary},
		{"script", ep.Script},
		{"validationsJson", string(validations)},
		{"editor", ep.Editor},
		{"provider", ep.Provider},
		{"model", ep.Model},
	}, "errorMessage")
}

// SaveFailure records the error marker as the script for f.Date.
func (d *Dynamo) SaveFailure(ctx context.Context, f Failure) (SaveResult, error) {
	return d.upsert(ctx, f.Date, []attr{
		{"status", string(StatusFailed)},
		{"script", FailureScript(f.Err)},
		{"errorMessage", f.Err.Error()},
		{"editor", f.Editor},
		{"provider", f.Provider},
		{"model", f.Model},
	}, "research", "summary", "validationsJson")
}

// upsert writes attrs with a single UpdateItem. episodeId and createdAt are
// only set when the item is new.
func (d *Dynamo) upsert(ctx context.Context, date string, attrs []attr, remove ...string) (SaveResult, error) {
	now := d.now().UTC()
	id, err := NewEpisodeID(now)
	if err != nil {
		return SaveResult{}, err
	}
	ts := now.Format(time.RFC3339)

	attrs = append(attrs,
		attr{"date", date},
		attr{"GSI1PK", episodesGSI1PK},
		attr{"GSI1SK", date},
		attr{"updatedAt", ts},
	)

	names := map[string]string{
		"#id":      "episodeId",
		"#created": "createdAt",
	}
	values := map[string]types.AttributeValue{
		":id":      &types.AttributeValueMemberS{Value: id},
		":created": &types.AttributeValueMemberS{Value: ts},
	}
	sets := []string{
		"#id = if_not_exists(#id, :id)",
		"#created = if_not_exists(#created, :created)",
	}
	for i, a := range attrs {
		av, err := attributevalue.Marshal(a.value)
		if err != nil {
			return SaveResult{}, fmt.Errorf("marshal %s: %w", a.name, err)
		}
		n, v := fmt.Sprintf("#a%d", i), fmt.Sprintf(":a%d", i)
		names[n] = a.name
		values[v] = av
		sets = append(sets, n+" = "+v)
	}

	expr := "SET " + strings.Join(sets, ", ")
	if len(remove) > 0 {
		var rm []string
		for i, name := range remove {
			n := fmt.Sprintf("#r%d", i)
			names[n] = name
			rm = append(rm, n)
		}
		expr += " REMOVE " + strings.Join(rm, ", ")
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &d.tableName,
		Key:                       episodeKey(date),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("update episode: %w", err)
	}

	var item episodeItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return SaveResult{}, fmt.Errorf("unmarshal episode: %w", err)
	}
	return SaveResult{ID: item.EpisodeID, Created: item.EpisodeID == id}, nil
}

// SetScriptURL stores the public URL of the archived script.
func (d *Dynamo) SetScriptURL(ctx context.Context, date, url string) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &d.tableName,
		Key:                 episodeKey(date),
		UpdateExpression:    aws.String("SET scriptUrl = :url"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":url": &types.AttributeValueMemberS{Value: url},
		},
	})
	if err != nil {
		return fmt.Errorf("set script url: %w", err)
	}
	return nil
}

// Get retrieves the episode for date.
func (d *Dynamo) Get(ctx context.Context, date string) (*Record, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &d.tableName,
		Key:       episodeKey(date),
	})
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var item episodeItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal episode: %w", err)
	}
	return item.record()
}

// List returns episodes newest date first via GSI1. The cursor is the GSI1SK
// (the date) of the last item on the previous page.
func (d *Dynamo) List(ctx context.Context, limit int, cursor string) ([]Record, string, error) {
	limit = ClampListLimit(limit)

	input := &dynamodb.QueryInput{
		TableName:              &d.tableName,
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: episodesGSI1PK},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}
	if cursor != "" {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"PK":     &types.AttributeValueMemberS{Value: episodePKPrefix + cursor},
			"SK":     &types.AttributeValueMemberS{Value: metadataSK},
			"GSI1PK": &types.AttributeValueMemberS{Value: episodesGSI1PK},
			"GSI1SK": &types.AttributeValueMemberS{Value: cursor},
		}
	}

	result, err := d.client.Query(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("list episodes: %w", err)
	}

	var items []episodeItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, "", fmt.Errorf("unmarshal episode list: %w", err)
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		r, err := item.record()
		if err != nil {
			return nil, "", err
		}
		records = append(records, *r)
	}

	var next string
	if result.LastEvaluatedKey != nil {
		if sk, ok := result.LastEvaluatedKey["GSI1SK"].(*types.AttributeValueMemberS); ok {
			next = sk.Value
		}
	}
	return records, next, nil
}

func (it episodeItem) record() (*Record, error) {
	r := &Record{
		ID:        it.EpisodeID,
		Date:      it.Date,
		Status:    Status(it.Status),
		Research:  it.Research,
		Summary:   it.Summary,
		Script:    it.Script,
		Editor:    it.Editor,
		Provider:  it.Provider,
		Model:     it.Model,
		ScriptURL: it.ScriptURL,
		Error:     it.ErrorMessage,
	}
	if it.ValidationsJSON != "" {
		var v map[string]quality.Result
		if err := json.Unmarshal([]byte(it.ValidationsJSON), &v); err != nil {
			return nil, fmt.Errorf("decode validations for %s: %w", it.Date, err)
		}
		r.Validations = v
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, it.CreatedAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, it.UpdatedAt)
	return r, nil
}
