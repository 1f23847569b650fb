package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
	Database    string `json:"database"`
	Error       string `json:"error,omitempty"`
}

func (a *App) health(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   a.now().Format(time.RFC3339),
		Environment: a.Cfg.Environment,
		Database:    "connected",
	}

	if err := a.Sessions.Ping(ctx); err != nil {
		log.Printf("health: session store ping failed: %v", err)
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		resp.Error = err.Error()
		return jsonResp(http.StatusInternalServerError, resp)
	}
	return jsonResp(http.StatusOK, resp)
}
