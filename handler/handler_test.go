package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"support-agent/internal/domain"
	"support-agent/internal/usecase"
)

type stubChat struct {
	out usecase.ChatOutput
	err error
	in  usecase.ChatInput
}

func (s *stubChat) Chat(_ context.Context, in usecase.ChatInput) (usecase.ChatOutput, error) {
	s.in = in
	return s.out, s.err
}

type stubCredits struct {
	balance    usecase.BalanceOutput
	balanceErr error
	grantOut   usecase.BalanceOutput
	grantErr   error
	grantedID  int64
	grantedAmt int
}

func (s *stubCredits) Balance(_ context.Context, _ int64) (usecase.BalanceOutput, error) {
	return s.balance, s.balanceErr
}

func (s *stubCredits) Grant(_ context.Context, userID int64, amount int) (usecase.BalanceOutput, error) {
	s.grantedID = userID
	s.grantedAmt = amount
	return s.grantOut, s.grantErr
}

func (s *stubCredits) Packages() []domain.Package {
	return domain.DefaultCatalog()
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, chat ChatUseCase, credits CreditUseCase) *Handler {
	t.Helper()
	h, err := NewHandler(chat, credits)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubCredits{})
	require.Error(t, err)

	_, err = NewHandler(&stubChat{}, nil)
	require.Error(t, err)
}

func TestHandle_Chat_HappyPath(t *testing.T) {
	chat := &stubChat{out: usecase.ChatOutput{Reply: "hello", Kind: usecase.KindFree, FreeRemaining: 4, PaidCredits: 0}}
	h := newTestHandler(t, chat, &stubCredits{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"userId":42,"message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ChatInput{UserID: 42, Text: "hi"}, chat.in)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	out := parseBody[chatResponse](t, resp.Body)
	require.Equal(t, "hello", out.Reply)
	require.Equal(t, "free", out.PaymentKind)
	require.Equal(t, 4, out.FreeRemaining)
}

func TestHandle_Chat_InvalidBody(t *testing.T) {
	h := newTestHandler(t, &stubChat{}, &stubCredits{})

	for _, body := range []string{`not-json`, `{"message":"no user"}`} {
		resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", body))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestHandle_Chat_DenialCarriesPackages(t *testing.T) {
	chat := &stubChat{err: &usecase.Error{Code: usecase.ErrorNotEntitled, Reason: "insufficient_credits"}}
	h := newTestHandler(t, chat, &stubCredits{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"userId":42,"message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorNotEntitled), out.Error)
	require.NotEmpty(t, out.Message)
	require.Equal(t, domain.DefaultCatalog(), out.Packages)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "message_too_long"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "openai_rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "openai_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "ledger_debit_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubChat{err: tc.err}, &stubCredits{})

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"userId":42,"message":"hi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_Balance(t *testing.T) {
	credits := &stubCredits{balance: usecase.BalanceOutput{FreeRemaining: 2, PaidCredits: 27}}
	h := newTestHandler(t, &stubChat{}, credits)

	event := makeEvent(http.MethodGet, "/balance", "")
	event.QueryStringParameters = map[string]string{"userId": "42"}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[balanceResponse](t, resp.Body)
	require.Equal(t, 2, out.FreeRemaining)
	require.Equal(t, 27, out.PaidCredits)
}

func TestHandle_Balance_MissingUserID(t *testing.T) {
	h := newTestHandler(t, &stubChat{}, &stubCredits{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/balance", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_Packages(t *testing.T) {
	h := newTestHandler(t, &stubChat{}, &stubCredits{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/packages", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[packagesResponse](t, resp.Body)
	require.Equal(t, domain.DefaultCatalog(), out.Packages)
}

func TestHandle_Grant(t *testing.T) {
	credits := &stubCredits{grantOut: usecase.BalanceOutput{FreeRemaining: 0, PaidCredits: 30}}
	h := newTestHandler(t, &stubChat{}, credits)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/grant", `{"userId":42,"amount":30}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(42), credits.grantedID)
	require.Equal(t, 30, credits.grantedAmt)

	out := parseBody[balanceResponse](t, resp.Body)
	require.Equal(t, 30, out.PaidCredits)
}

func TestHandle_Grant_RejectionMapsTo400(t *testing.T) {
	credits := &stubCredits{grantErr: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "non_positive_amount"}}
	h := newTestHandler(t, &stubChat{}, credits)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/grant", `{"userId":42,"amount":-5}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_UnknownRoute(t *testing.T) {
	h := newTestHandler(t, &stubChat{}, &stubCredits{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/nope", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubChat{out: usecase.ChatOutput{Reply: "ok"}}, &stubCredits{})

	event := makeEvent(http.MethodPost, "/chat", `{"userId":42,"message":"hi"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
