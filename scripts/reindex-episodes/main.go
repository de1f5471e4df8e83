// Restore the GSI1 (date index) keys on every EPISODE# item in DynamoDB so
// that episode listing returns them in date order.
//
// Usage:
//
//	go run ./scripts/reindex-episodes --dry-run          # preview changes
//	go run ./scripts/reindex-episodes                     # apply changes
//	go run ./scripts/reindex-episodes --table my-table    # custom table name
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/apresai/newsdesk/internal/store"
)

func main() {
	tableName := flag.String("table", "newsdesk-episodes", "DynamoDB table name")
	region := flag.String("region", "us-east-1", "AWS region")
	dryRun := flag.Bool("dry-run", false, "Preview changes without writing")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(*region))
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	client := dynamodb.NewFromConfig(cfg)

	fmt.Printf("Table: %s | Dry run: %v\n", *tableName, *dryRun)

	action := "UPDATE"
	if *dryRun {
		action = "DRY-RUN"
	}
	stats, err := store.Reindex(ctx, client, *tableName, *dryRun, func(date string, err error) {
		if err != nil {
			log.Printf("ERROR updating %s: %v", date, err)
			return
		}
		fmt.Printf("[%s] %s: GSI1PK=EPISODES GSI1SK=%s\n", action, date, date)
	})
	if err != nil {
		log.Fatalf("reindex: %v", err)
	}

	fmt.Printf("\nDone. Scanned: %d, Updated: %d, Skipped (already indexed): %d, Failed: %d\n",
		stats.Scanned, stats.Updated, stats.Skipped, stats.Failed)
	if *dryRun {
		fmt.Println("(dry run, no changes written)")
	}
}
