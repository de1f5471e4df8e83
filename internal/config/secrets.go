package config

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretEnvVars are the provider keys looked up under the secret prefix.
var SecretEnvVars = []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"}

// LoadSecrets fetches provider API keys from Secrets Manager and exports them
// as environment variables. Variables already set are left alone; missing
// secrets are logged and skipped. It returns the number of secrets loaded.
func LoadSecrets(ctx context.Context, client SecretsAPI, prefix string, logger *slog.Logger) int {
	loaded := 0
	for _, envVar := range SecretEnvVars {
		if os.Getenv(envVar) != "" {
			continue
		}

		secretID := prefix + envVar
		result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: &secretID,
		})
		if err != nil {
			logger.InfoContext(ctx, "Secret not found", "secret_id", secretID, "error", err)
			continue
		}
		if result.SecretString != nil {
			os.Setenv(envVar, *result.SecretString)
			logger.InfoContext(ctx, "Loaded secret", "secret_id", secretID)
			loaded++
		}
	}
	return loaded
}
