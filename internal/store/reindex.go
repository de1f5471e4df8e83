package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ScanAPI is the subset of the DynamoDB client the reindexer uses.
type ScanAPI interface {
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// ReindexStats summarizes a Reindex pass.
type ReindexStats struct {
	Scanned int
	Updated int
	Skipped int
	Failed  int
}

// ReindexFunc is called once per episode item whose index keys need fixing.
// err is non-nil when the update failed.
type ReindexFunc func(date string, err error)

// Reindex scans every episode item and restores the GSI1 keys and date
// attribute that List depends on. Items that already carry correct keys are
// skipped. With dryRun set nothing is written.
func Reindex(ctx context.Context, client ScanAPI, table string, dryRun bool, fn ReindexFunc) (ReindexStats, error) {
	var (
		stats   ReindexStats
		lastKey map[string]types.AttributeValue
	)
	for {
		input := &dynamodb.ScanInput{
			TableName:        aws.String(table),
			FilterExpression: aws.String("begins_with(PK, :prefix) AND SK = :sk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: episodePKPrefix},
				":sk":     &types.AttributeValueMemberS{Value: metadataSK},
			},
			ExclusiveStartKey: lastKey,
		}

		result, err := client.Scan(ctx, input)
		if err != nil {
			return stats, fmt.Errorf("scan episodes: %w", err)
		}

		for _, item := range result.Items {
			stats.Scanned++
			date := strings.TrimPrefix(attrStr(item, "PK"), episodePKPrefix)
			if attrStr(item, "GSI1PK") == episodesGSI1PK && attrStr(item, "GSI1SK") == date && attrStr(item, "date") == date {
				stats.Skipped++
				continue
			}

			if dryRun {
				stats.Updated++
				if fn != nil {
					fn(date, nil)
				}
				continue
			}

			_, err := client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:        aws.String(table),
				Key:              episodeKey(date),
				UpdateExpression: aws.String("SET GSI1PK = :g1pk, GSI1SK = :g1sk, #date = :date"),
				ExpressionAttributeNames: map[string]string{
					"#date": "date",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":g1pk": &types.AttributeValueMemberS{Value: episodesGSI1PK},
					":g1sk": &types.AttributeValueMemberS{Value: date},
					":date": &types.AttributeValueMemberS{Value: date},
				},
			})
			if err != nil {
				stats.Failed++
			} else {
				stats.Updated++
			}
			if fn != nil {
				fn(date, err)
			}
		}

		lastKey = result.LastEvaluatedKey
		if len(lastKey) == 0 {
			return stats, nil
		}
	}
}

func attrStr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
