package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nathanyu/bank-transfer/internal/auth"
	"github.com/nathanyu/bank-transfer/internal/identity"
	"github.com/nathanyu/bank-transfer/internal/ledger"
	"github.com/nathanyu/bank-transfer/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	router   *gin.Engine
	tokens   *auth.TokenManager
	accounts *repository.MemoryStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := repository.NewMemoryUserStore()
	accounts, err := repository.NewMemoryStore(nil)
	require.NoError(t, err)

	tokens := auth.NewTokenManager("test-secret", time.Hour)
	identitySvc := identity.NewService(users, accounts, tokens, 1000, 1000)
	coordinator := ledger.NewCoordinator(accounts, nil, ledger.Config{})

	router := gin.New()
	SetupRoutes(router, NewHandler(identitySvc, coordinator, accounts), tokens)

	return &testAPI{router: router, tokens: tokens, accounts: accounts}
}

func (api *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// signup registers a user and returns their bearer token and user ID. Every
// account is seeded with exactly 1000 cents in tests.
func (api *testAPI) signup(t *testing.T, username string) (token, userID string) {
	t.Helper()

	rec := api.do(t, http.MethodPost, "/v1/user/signup", "", gin.H{
		"username": username,
		"password": "hunter22",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	token = decode(t, rec)["token"].(string)
	userID, err := api.tokens.Verify(token)
	require.NoError(t, err)
	return token, userID
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignupAndSignin(t *testing.T) {
	api := newTestAPI(t)

	token, _ := api.signup(t, "alice")
	require.NotEmpty(t, token)

	// Duplicate username
	rec := api.do(t, http.MethodPost, "/v1/user/signup", "", gin.H{
		"username": "alice", "password": "hunter22",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Bad input
	rec = api.do(t, http.MethodPost, "/v1/user/signup", "", gin.H{
		"username": "ab", "password": "hunter22",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Signin
	rec = api.do(t, http.MethodPost, "/v1/user/signin", "", gin.H{
		"username": "alice", "password": "hunter22",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["token"])

	rec = api.do(t, http.MethodPost, "/v1/user/signin", "", gin.H{
		"username": "alice", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/v1/account/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodGet, "/v1/account/balance", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/account/transfer", "", gin.H{"to": "x", "amount": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetBalance(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signup(t, "alice")

	rec := api.do(t, http.MethodGet, "/v1/account/balance", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1000), decode(t, rec)["balance"])
}

func TestTransfer(t *testing.T) {
	api := newTestAPI(t)
	aliceToken, _ := api.signup(t, "alice")
	_, bobID := api.signup(t, "bob")

	rec := api.do(t, http.MethodPost, "/v1/account/transfer", aliceToken, gin.H{
		"to": bobID, "amount": 300,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "committed", decode(t, rec)["status"])

	rec = api.do(t, http.MethodGet, "/v1/account/balance", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(700), decode(t, rec)["balance"])
}

func TestTransfer_AbortStatusCodes(t *testing.T) {
	api := newTestAPI(t)
	aliceToken, aliceID := api.signup(t, "alice")
	_, bobID := api.signup(t, "bob")

	tests := []struct {
		name       string
		to         string
		amount     int64
		wantStatus int
		wantReason string
	}{
		{"insufficient funds", bobID, 100000, http.StatusBadRequest, "INSUFFICIENT_FUNDS"},
		{"self transfer", aliceID, 100, http.StatusBadRequest, "SELF_TRANSFER"},
		{"zero amount", bobID, 0, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"negative amount", bobID, -5, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"unknown account", "no-such-user", 100, http.StatusNotFound, "UNKNOWN_ACCOUNT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/v1/account/transfer", aliceToken, gin.H{
				"to": tt.to, "amount": tt.amount,
			})
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.Equal(t, "aborted", body["status"])
			assert.Equal(t, tt.wantReason, body["reason"])
		})
	}

	// Aborted transfers never move money
	rec := api.do(t, http.MethodGet, "/v1/account/balance", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1000), decode(t, rec)["balance"])
}

func TestTransfer_MissingFields(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signup(t, "alice")
	_, bobID := api.signup(t, "bob")

	rec := api.do(t, http.MethodPost, "/v1/account/transfer", token, gin.H{"amount": 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// An omitted amount is a zero amount, not a bind error
	rec = api.do(t, http.MethodPost, "/v1/account/transfer", token, gin.H{"to": bobID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "aborted", body["status"])
	assert.Equal(t, "INVALID_AMOUNT", body["reason"])
}

func TestSearchUsers(t *testing.T) {
	api := newTestAPI(t)

	for i, name := range []string{"Smith", "Smithers", "Jones"} {
		rec := api.do(t, http.MethodPost, "/v1/user/signup", "", gin.H{
			"username":  fmt.Sprintf("user%d", i),
			"password":  "hunter22",
			"last_name": name,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := api.do(t, http.MethodGet, "/v1/user/search?filter=smith", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode(t, rec)["users"].([]any)
	assert.Len(t, users, 2)
}

func TestUpdateUser(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signup(t, "alice")

	rec := api.do(t, http.MethodPut, "/v1/user", token, gin.H{"first_name": "Alicia"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/v1/user/search?filter=alicia", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode(t, rec)["users"].([]any)
	require.Len(t, users, 1)

	// Unauthenticated update is rejected
	rec = api.do(t, http.MethodPut, "/v1/user", "", gin.H{"first_name": "X"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
