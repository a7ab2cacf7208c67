package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/risalo/backend/internal/broadcast"
	"github.com/risalo/backend/internal/interactions"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "risalo_user_id"

	eventNameInteraction = "interaction"
	eventNameHeartbeat   = "heartbeat"
	heartbeatInterval    = 15 * time.Second

	defaultBatchLimit = 100
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingInteractions  = errors.New("interactions service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates the bearer tokens protecting the
// interaction routes.
type SessionTokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	TokenManager SessionTokenManager
	Interactions *interactions.Service
	Dispatcher   *broadcast.Dispatcher
	Logger       *zap.Logger
	Registry     *prometheus.Registry
	BatchLimit   int
}

// NewHTTPHandler validates the dependencies and builds the router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Interactions == nil {
		return nil, errMissingInteractions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batchLimit := deps.BatchLimit
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:       deps.TokenManager,
		interactions: deps.Interactions,
		dispatcher:   deps.Dispatcher,
		logger:       logger,
		batchLimit:   batchLimit,
	}

	router.POST("/auth/token", handler.handleIssueToken)
	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/interactions/batch", handler.handleBatchApply)
	protected.GET("/interactions/state", handler.handleUserState)
	protected.GET("/interactions/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	tokens       SessionTokenManager
	interactions *interactions.Service
	dispatcher   *broadcast.Dispatcher
	logger       *zap.Logger
	batchLimit   int
}

type tokenRequestPayload struct {
	UserID string `json:"user_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), strings.TrimSpace(request.UserID))
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type batchMutationPayload struct {
	ID         string `json:"id"`
	Op         string `json:"op"`
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
	Ts         int64  `json:"ts"`
	Attempts   int    `json:"attempts"`
}

type batchRequestPayload struct {
	Ops []batchMutationPayload `json:"ops"`
}

type batchResultPayload struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type batchSummaryPayload struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type batchResponsePayload struct {
	Success      bool                 `json:"success"`
	ProcessedIDs []string             `json:"processedIds"`
	Results      []batchResultPayload `json:"results"`
	Summary      batchSummaryPayload  `json:"summary"`
}

func (h *httpHandler) handleBatchApply(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request batchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Ops) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if len(request.Ops) > h.batchLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch_too_large"})
		return
	}

	batch := make([]interactions.Mutation, 0, len(request.Ops))
	for _, op := range request.Ops {
		batch = append(batch, interactions.Mutation{
			ID:         op.ID,
			Op:         interactions.Op(op.Op),
			EntityID:   op.EntityID,
			EntityType: interactions.EntityType(op.EntityType),
			TsMillis:   op.Ts,
			Attempts:   op.Attempts,
		})
	}

	outcome, err := h.interactions.ApplyBatch(c.Request.Context(), userID, batch)
	if err != nil {
		h.logger.Error("failed to apply interaction batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "apply_failed"})
		return
	}

	h.publishEvents(outcome.Events)

	response := batchResponsePayload{
		Success:      true,
		ProcessedIDs: outcome.ProcessedIDs,
		Results:      make([]batchResultPayload, 0, len(outcome.Results)),
		Summary: batchSummaryPayload{
			Total:      len(outcome.Results),
			Successful: outcome.Successful,
			Failed:     outcome.Failed,
		},
	}
	for _, result := range outcome.Results {
		response.Results = append(response.Results, batchResultPayload{
			ID:      result.ID,
			Success: result.Success,
			Error:   result.Error,
		})
	}

	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) publishEvents(events []interactions.Event) {
	if h.dispatcher == nil {
		return
	}
	for _, event := range events {
		h.dispatcher.Publish(broadcast.Event{
			Topic:     broadcast.TopicInteractions,
			CoupletID: event.CoupletID,
			UserID:    event.UserID,
			Op:        string(event.Op),
			Timestamp: time.UnixMilli(event.TsMillis),
		})
	}
}

type userStatePayload struct {
	Likes      []string         `json:"likes"`
	Bookmarks  []string         `json:"bookmarks"`
	LikeCounts map[string]int64 `json:"likeCounts"`
}

func (h *httpHandler) handleUserState(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	state, err := h.interactions.GetUserState(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load user state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state_failed"})
		return
	}

	payload := userStatePayload{
		Likes:      state.LikedCoupletIDs,
		Bookmarks:  state.BookmarkedCoupletIDs,
		LikeCounts: state.LikeCounts,
	}
	if payload.Likes == nil {
		payload.Likes = []string{}
	}
	if payload.Bookmarks == nil {
		payload.Bookmarks = []string{}
	}

	c.JSON(http.StatusOK, payload)
}

type eventPayload struct {
	CoupletID string `json:"coupletId"`
	UserID    string `json:"userId"`
	Op        string `json:"op"`
	Language  string `json:"language,omitempty"`
	Ts        int64  `json:"ts"`
}

// handleEvents streams the user's accepted interactions over SSE so other
// open sessions converge without polling.
func (h *httpHandler) handleEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.dispatcher == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "events_unavailable"})
		return
	}

	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context(), broadcast.TopicInteractions)
	defer cleanup()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-stream:
			if !ok {
				return false
			}
			if event.UserID != userID {
				return true
			}
			c.SSEvent(eventNameInteraction, eventPayload{
				CoupletID: event.CoupletID,
				UserID:    event.UserID,
				Op:        event.Op,
				Language:  event.Language,
				Ts:        event.Timestamp.UnixMilli(),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(eventNameHeartbeat, time.Now().UnixMilli())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
