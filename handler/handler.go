package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"support-agent/internal/domain"
	"support-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatUseCase runs the metered chat pipeline.
type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

// CreditUseCase serves balances, top-ups and the package catalog.
type CreditUseCase interface {
	Balance(ctx context.Context, userID int64) (usecase.BalanceOutput, error)
	Grant(ctx context.Context, userID int64, amount int) (usecase.BalanceOutput, error)
	Packages() []domain.Package
}

// Handler adapts API Gateway proxy events to the use cases. It owns no
// business rules; swapping the transport means swapping this package only.
type Handler struct {
	chat    ChatUseCase
	credits CreditUseCase
}

type chatRequest struct {
	UserID  int64  `json:"userId"`
	Message string `json:"message"`
}

type chatResponse struct {
	Reply         string `json:"reply"`
	PaymentKind   string `json:"paymentKind"`
	FreeRemaining int    `json:"freeRemaining"`
	PaidCredits   int    `json:"paidCredits"`
}

type grantRequest struct {
	UserID int64 `json:"userId"`
	Amount int   `json:"amount"`
}

type balanceResponse struct {
	FreeRemaining int `json:"freeRemaining"`
	PaidCredits   int `json:"paidCredits"`
}

type packagesResponse struct {
	Packages []domain.Package `json:"packages"`
}

type errorResponse struct {
	Error    string           `json:"error"`
	Message  string           `json:"message,omitempty"`
	Packages []domain.Package `json:"packages,omitempty"`
}

func NewHandler(chat ChatUseCase, credits CreditUseCase) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if credits == nil {
		return nil, errors.New("handler: credit use case must not be nil")
	}
	return &Handler{chat: chat, credits: credits}, nil
}

// Handle routes one API Gateway event.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)

	var resp events.APIGatewayProxyResponse
	switch {
	case event.HTTPMethod == http.MethodPost && event.Path == "/chat":
		resp = h.handleChat(ctx, event.Body)
	case event.HTTPMethod == http.MethodGet && event.Path == "/balance":
		resp = h.handleBalance(ctx, event.QueryStringParameters)
	case event.HTTPMethod == http.MethodGet && event.Path == "/packages":
		resp = h.handlePackages()
	case event.HTTPMethod == http.MethodPost && event.Path == "/grant":
		resp = h.handleGrant(ctx, event.Body)
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	}

	resp.Headers[correlationHeader] = corrID
	if resp.StatusCode >= http.StatusInternalServerError {
		slog.Error("request failed", "path", event.Path, "status", resp.StatusCode, "correlationId", corrID)
	}
	return resp, nil
}

func (h *Handler) handleChat(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil || req.UserID == 0 {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}

	out, err := h.chat.Chat(ctx, usecase.ChatInput{UserID: req.UserID, Text: req.Message})
	if err != nil {
		return h.errorToResponse(err)
	}
	return jsonResponse(http.StatusOK, chatResponse{
		Reply:         out.Reply,
		PaymentKind:   string(out.Kind),
		FreeRemaining: out.FreeRemaining,
		PaidCredits:   out.PaidCredits,
	})
}

func (h *Handler) handleBalance(ctx context.Context, query map[string]string) events.APIGatewayProxyResponse {
	userID, err := strconv.ParseInt(strings.TrimSpace(query["userId"]), 10, 64)
	if err != nil || userID == 0 {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}

	out, err := h.credits.Balance(ctx, userID)
	if err != nil {
		return h.errorToResponse(err)
	}
	return jsonResponse(http.StatusOK, balanceResponse{FreeRemaining: out.FreeRemaining, PaidCredits: out.PaidCredits})
}

func (h *Handler) handlePackages() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusOK, packagesResponse{Packages: h.credits.Packages()})
}

func (h *Handler) handleGrant(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req grantRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil || req.UserID == 0 {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}

	out, err := h.credits.Grant(ctx, req.UserID, req.Amount)
	if err != nil {
		return h.errorToResponse(err)
	}
	return jsonResponse(http.StatusOK, balanceResponse{FreeRemaining: out.FreeRemaining, PaidCredits: out.PaidCredits})
}

// errorToResponse maps use case error codes to HTTP statuses. An entitlement
// denial carries the package catalog so the client can render the purchase
// prompt in one round trip.
func (h *Handler) errorToResponse(err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}

	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(ucErr.Code)})
	case usecase.ErrorNotEntitled:
		return jsonResponse(http.StatusPaymentRequired, errorResponse{
			Error:    string(ucErr.Code),
			Message:  "You are out of credits. Buy a package to keep the conversation going.",
			Packages: h.credits.Packages(),
		})
	case usecase.ErrorRateLimited:
		return jsonResponse(http.StatusTooManyRequests, errorResponse{Error: string(ucErr.Code)})
	case usecase.ErrorUpstream:
		return jsonResponse(http.StatusBadGateway, errorResponse{Error: string(ucErr.Code)})
	default:
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"INTERNAL_ERROR"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(raw),
	}
}
