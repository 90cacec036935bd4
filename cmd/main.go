package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"support-agent/handler"
	"support-agent/internal/domain"
	"support-agent/internal/integrations/openai"
	"support-agent/internal/integrations/paramstore"
	"support-agent/internal/repository"
	"support-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	freeTrial := envInt("FREE_TRIAL_ANSWERS", 5)
	costPerAnswer := envInt("COST_PER_ANSWER", 3)
	contextWindow := envInt("CONTEXT_WINDOW", 8)
	maxInputLen := envInt("MAX_INPUT_LENGTH", 500)
	maxOutputTokens := envInt("MAX_OUTPUT_TOKENS", 512)
	catalog := envCatalog("PACKAGE_CATALOG")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	ledger, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable, freeTrial)
	if err != nil {
		slog.Error("failed to create ledger client", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix, openai.WithMaxTokens(maxOutputTokens))
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Services ----
	locks := usecase.NewUserLocks()
	chatService, err := usecase.NewChatService(ssmClient, openaiClient, ledger, locks, paramPrefix, costPerAnswer, contextWindow, maxInputLen)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}
	creditService, err := usecase.NewCreditService(ledger, locks, catalog)
	if err != nil {
		slog.Error("failed to create credit service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(chatService, creditService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envCatalog parses a "code:credits:label" CSV override for the package
// catalog, e.g. "credits_30:30:30 ₽,credits_100:100:90 ₽". Malformed entries
// fall back to the default catalog.
func envCatalog(key string) []domain.Package {
	v := os.Getenv(key)
	if v == "" {
		return domain.DefaultCatalog()
	}

	var catalog []domain.Package
	for _, entry := range strings.Split(v, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 {
			slog.Warn("skipping malformed package catalog entry", "entry", entry)
			return domain.DefaultCatalog()
		}
		credits, err := strconv.Atoi(parts[1])
		if err != nil || credits <= 0 {
			slog.Warn("skipping package catalog entry with bad credit amount", "entry", entry)
			return domain.DefaultCatalog()
		}
		catalog = append(catalog, domain.Package{Code: parts[0], Credits: credits, PriceLabel: parts[2]})
	}
	return catalog
}
