package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nathanyu/bank-transfer/internal/auth"
	"github.com/nathanyu/bank-transfer/internal/domain"
	"github.com/nathanyu/bank-transfer/internal/identity"
	"github.com/nathanyu/bank-transfer/internal/ledger"
	"github.com/nathanyu/bank-transfer/internal/middleware"
	"github.com/nathanyu/bank-transfer/internal/repository"
)

// Handler contains all HTTP handlers
type Handler struct {
	identity  *identity.Service
	transfers *ledger.Coordinator
	accounts  repository.AccountStore
}

// NewHandler creates a new handler
func NewHandler(identitySvc *identity.Service, transfers *ledger.Coordinator, accounts repository.AccountStore) *Handler {
	return &Handler{
		identity:  identitySvc,
		transfers: transfers,
		accounts:  accounts,
	}
}

// SignupRequest is the request body for the signup endpoint
type SignupRequest struct {
	Username  string `json:"username" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password" binding:"required"`
}

// SigninRequest is the request body for the signin endpoint
type SigninRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UpdateUserRequest is the request body for the profile update endpoint
type UpdateUserRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Password  *string `json:"password"`
}

// TransferRequest is the request body for the transfer endpoint. Amount has
// no binding tag: a zero or missing amount must reach the coordinator so the
// caller gets an INVALID_AMOUNT abort, not a bind error.
type TransferRequest struct {
	To     string `json:"to" binding:"required"`
	Amount int64  `json:"amount"`
}

// UserView is the public shape of a user in search results
type UserView struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Signup handles POST /v1/user/signup
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.identity.Signup(c.Request.Context(), identity.SignupParams{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign up"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Signin handles POST /v1/user/signin
func (h *Handler) Signin(c *gin.Context) {
	var req SigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.identity.Signin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign in"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// UpdateUser handles PUT /v1/user
func (h *Handler) UpdateUser(c *gin.Context) {
	callerID, ok := middleware.CallerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.identity.Update(c.Request.Context(), callerID, identity.UpdateParams{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

// SearchUsers handles GET /v1/user/search
func (h *Handler) SearchUsers(c *gin.Context) {
	users, err := h.identity.Search(c.Request.Context(), c.Query("filter"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search users"})
		return
	}

	views := make([]UserView, 0, len(users))
	for _, user := range users {
		views = append(views, UserView{
			ID:        user.ID,
			Username:  user.Username,
			FirstName: user.FirstName,
			LastName:  user.LastName,
		})
	}

	c.JSON(http.StatusOK, gin.H{"users": views})
}

// GetBalance handles GET /v1/account/balance
func (h *Handler) GetBalance(c *gin.Context) {
	callerID, ok := middleware.CallerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	account, err := h.accounts.Get(c.Request.Context(), callerID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"reason": domain.ReasonUnknownAccount})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": account.Balance})
}

// Transfer handles POST /v1/account/transfer
func (h *Handler) Transfer(c *gin.Context) {
	callerID, ok := middleware.CallerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.transfers.Transfer(c.Request.Context(), domain.TransferRequest{
		SourceID: callerID,
		DestID:   req.To,
		Amount:   req.Amount,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process transfer"})
		return
	}

	if result.Committed {
		c.JSON(http.StatusOK, gin.H{"status": "committed"})
		return
	}

	c.JSON(abortStatusCode(result.Reason), gin.H{
		"status": "aborted",
		"reason": result.Reason,
	})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func abortStatusCode(reason domain.AbortReason) int {
	switch reason {
	case domain.ReasonUnknownAccount:
		return http.StatusNotFound
	case domain.ReasonConflict:
		return http.StatusConflict
	case domain.ReasonTimeout:
		return http.StatusGatewayTimeout
	default: // INVALID_AMOUNT, SELF_TRANSFER, INSUFFICIENT_FUNDS
		return http.StatusBadRequest
	}
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handler, tokens *auth.TokenManager) {
	// Health check
	r.GET("/health", h.Health)

	user := r.Group("/v1/user")
	{
		user.POST("/signup", h.Signup)
		user.POST("/signin", h.Signin)
		user.GET("/search", h.SearchUsers)
		user.PUT("", middleware.Auth(tokens), h.UpdateUser)
	}

	account := r.Group("/v1/account")
	account.Use(middleware.Auth(tokens))
	{
		account.GET("/balance", h.GetBalance)
		account.POST("/transfer", h.Transfer)
	}
}
