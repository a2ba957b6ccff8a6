package api

import (
	"errors"
	"net/http"
	"time"

	"chatmatch-service/internal/middleware"
	"chatmatch-service/internal/model"
	"chatmatch-service/internal/service"
	"chatmatch-service/internal/service/match"
	"chatmatch-service/internal/ws"
	pkgAuth "chatmatch-service/pkg/auth"
	appErr "chatmatch-service/pkg/errors"
	"chatmatch-service/pkg/logger"
	"chatmatch-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container) {
	handler := &Handler{services: services}
	wsHandler := ws.NewHandler(services.Match, services.Bus)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/chatmatch/v1")
	{
		v1.POST("/auth/anon", handler.AnonLogin)

		matchGroup := v1.Group("/match")
		matchGroup.Use(middleware.AuthRequired())
		{
			matchGroup.POST("/join", handler.MatchJoin)
			matchGroup.POST("/attempt", handler.MatchAttempt)
			matchGroup.POST("/cancel", handler.MatchCancel)
			matchGroup.POST("/heartbeat", handler.MatchHeartbeat)
			matchGroup.GET("/status", handler.MatchStatus)
			matchGroup.POST("/ack", handler.MatchAck)
			matchGroup.POST("/leave", handler.MatchLeave)
		}
	}

	r.GET("/ws/notifications", wsHandler.HandleNotificationsWS)
}

type matchJoinBody struct {
	Language  string   `json:"language"`
	Interests []string `json:"interests"`
}

type anonLoginResponse struct {
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) AnonLogin(c *gin.Context) {
	userID := uuid.NewString()
	token, expireAt, err := pkgAuth.GenerateAnonToken(userID)
	if err != nil {
		logger.Log.Error("issue anonymous token failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "failed to issue token")
		return
	}
	response.Success(c, anonLoginResponse{UserID: userID, Token: token, ExpiresAt: expireAt})
}

func (h *Handler) MatchJoin(c *gin.Context) {
	var body matchJoinBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.Error(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.services.Match.Join(c.Request.Context(), match.JoinRequest{
		UserID: userID,
		Preferences: model.Preferences{
			Language:  body.Language,
			Interests: body.Interests,
		},
	})
	if err != nil {
		h.handleMatchError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *Handler) MatchAttempt(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.services.Match.TryMatch(c.Request.Context(), userID)
	if err != nil {
		h.handleMatchError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *Handler) MatchCancel(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	cancelled, err := h.services.Match.Cancel(c.Request.Context(), userID)
	if err != nil {
		h.handleMatchError(c, err)
		return
	}
	response.Success(c, gin.H{"cancelled": cancelled})
}

func (h *Handler) MatchHeartbeat(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	active, err := h.services.Match.Heartbeat(c.Request.Context(), userID)
	if err != nil {
		h.handleMatchError(c, err)
		return
	}
	response.Success(c, gin.H{"active": active})
}

func (h *Handler) MatchStatus(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	status, err := h.services.Match.Status(c.Request.Context(), userID)
	if err != nil {
		h.handleMatchError(c, err)
		return
	}
	response.Success(c, status)
}

func (h *Handler) MatchAck(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.services.Match.Acknowledge(c.Request.Context(), userID); err != nil {
		h.handleMatchError(c, err)
		return
	}
	response.Success(c, gin.H{"status": match.StatusNone})
}

func (h *Handler) MatchLeave(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.services.Match.Leave(c.Request.Context(), userID); err != nil {
		h.handleMatchError(c, err)
		return
	}
	response.Success(c, gin.H{"status": match.StatusNone})
}

func (h *Handler) handleMatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, appErr.ErrInvalidPreferences):
		response.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, appErr.ErrAlreadySearching), errors.Is(err, appErr.ErrNotMatched):
		response.Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, appErr.ErrEntryNotFound), errors.Is(err, appErr.ErrRoomNotFound):
		response.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, appErr.ErrMatchFailed):
		response.Error(c, http.StatusServiceUnavailable, appErr.ErrMatchFailed.Error())
	default:
		logger.Log.Error("match request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "internal error")
	}
}
