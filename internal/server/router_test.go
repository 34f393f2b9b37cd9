package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaignlog"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaigns"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/decks"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serviceerror"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCORSConfigAllowsAnyOriginByDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, origins := range [][]string{nil, {"*"}, {"https://app.example.com", "*"}} {
		config := corsConfig(origins)
		if !config.AllowAllOrigins {
			t.Fatalf("expected all origins for %v", origins)
		}
		if config.AllowCredentials {
			t.Fatalf("wildcard origins must not allow credentials for %v", origins)
		}
	}
}

func TestCORSConfigExplicitOriginsAllowCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(cors.New(corsConfig([]string{"https://app.example.com"})))
	router.OPTIONS("/decks", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/decks", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allowed origin %q", got)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
}

func TestStatusForMapsServiceErrors(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{name: "deck missing", err: serviceerror.New("decks.get", "not_found", decks.ErrDeckNotFound), want: http.StatusNotFound},
		{name: "campaign missing", err: serviceerror.New("campaigns.get", "not_found", campaigns.ErrCampaignNotFound), want: http.StatusNotFound},
		{name: "stale deck", err: serviceerror.New("decks.update", "version_conflict", decks.ErrVersionConflict), want: http.StatusConflict},
		{name: "out of order", err: serviceerror.New("campaigns.answer", "out_of_order", fmt.Errorf("wrapped: %w", campaignlog.ErrOutOfOrder)), want: http.StatusConflict},
		{name: "unknown guide", err: serviceerror.New("campaigns.create", "unknown_guide", campaigns.ErrUnknownGuide), want: http.StatusBadRequest},
		{name: "storage", err: serviceerror.New("decks.create", "insert_failed", errors.New("disk full")), want: http.StatusInternalServerError},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := statusFor(testCase.err); got != testCase.want {
				t.Fatalf("expected %d, got %d", testCase.want, got)
			}
		})
	}
}

func TestRespondErrorWritesReasonAndCode(t *testing.T) {
	gin.SetMode(gin.TestMode)

	recorder := httptest.NewRecorder()
	testContext, _ := gin.CreateTestContext(recorder)
	testContext.Request = httptest.NewRequest(http.MethodPut, "/decks/deck-1", http.NoBody)

	handler := &httpHandler{logger: zap.NewNop()}
	handler.respondError(testContext, serviceerror.New("decks.update", "version_conflict", decks.ErrVersionConflict))

	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "version_conflict" || body["code"] != "decks.update.version_conflict" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRespondErrorHidesUnclassifiedErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.ErrorLevel)
	recorder := httptest.NewRecorder()
	testContext, _ := gin.CreateTestContext(recorder)
	testContext.Request = httptest.NewRequest(http.MethodGet, "/decks", http.NoBody)

	handler := &httpHandler{logger: zap.New(core)}
	handler.respondError(testContext, errors.New("connection reset"))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "internal_error" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, leaked := body["code"]; leaked {
		t.Fatalf("unexpected code in body %v", body)
	}
	if logs.FilterMessage("request failed").Len() != 1 {
		t.Fatalf("expected the failure to be logged, got %d entries", logs.Len())
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingSessionValidator) {
		t.Fatalf("expected missing session validator, got %v", err)
	}
}
