package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"msgvault-backend/internal/bootstrap"
	"msgvault-backend/internal/shared/config"
	"msgvault-backend/internal/shared/server/respond"
	"msgvault-backend/internal/shared/telemetry"
)

var (
	initOnce  sync.Once
	initErr   error
	ginLambda *ginadapter.GinLambdaV2

	buildApp = bootstrap.Build
)

func initApp() {
	cfg := config.Load()
	app, err := buildApp(context.Background(), cfg)
	if err != nil {
		initErr = err
		telemetry.Error("lambda_http.bootstrap_failed", map[string]any{"env": cfg.Env, "error": err.Error()})
		return
	}
	ginLambda = ginadapter.NewV2(app.Router)
}

// errorResponse renders the same error envelope the API returns.
func errorResponse(status int, code, message string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(respond.ErrorResponse{Error: respond.ErrorBody{Code: code, Message: message}})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		// Backends are unreachable until the execution environment is recycled.
		return errorResponse(http.StatusServiceUnavailable, "BOOTSTRAP_FAILED", "service is starting up"), nil
	}
	return ginLambda.ProxyWithContext(ctx, req)
}

func main() {
	cfg := config.Load()
	if err := telemetry.Init(cfg.Env); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer telemetry.Sync()
	lambda.Start(handler)
}
