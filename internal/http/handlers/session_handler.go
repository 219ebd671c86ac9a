// Session HTTP handlers.
//
// This file exposes the conversational session store to replicas and tools
// that cannot link the Go client:
//   - GET    /sessions/{bot}/{chat}/{user}/state
//   - PUT    /sessions/{bot}/{chat}/{user}/state
//   - DELETE /sessions/{bot}/{chat}/{user}/state
//   - GET    /sessions/{bot}/{chat}/{user}/data
//   - PUT    /sessions/{bot}/{chat}/{user}/data   (full replace, {} deletes)
//   - PATCH  /sessions/{bot}/{chat}/{user}/data   (merge, last write wins per field)
//
// The optional "thread" query parameter selects a forum topic (default 0).
// A store outage answers 503; it is never reported as an empty session.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aisha-bot/aisha-backend/internal/http/middleware"
	"github.com/aisha-bot/aisha-backend/internal/session"
	"github.com/aisha-bot/aisha-backend/internal/utils"
)

// StateResponse carries a session state label; State is null when unset.
type StateResponse struct {
	State *string `json:"state" example:"avatar:awaiting_photos"`
}

// SetStateRequest is the JSON payload for PUT .../state.
type SetStateRequest struct {
	State string `json:"state" binding:"required,max=256" example:"avatar:awaiting_name"`
}

// DataResponse carries the session attribute bag.
type DataResponse struct {
	Data map[string]any `json:"data" swaggertype:"object"`
}

// DataRequest is the JSON payload for PUT and PATCH .../data.
type DataRequest struct {
	Data map[string]any `json:"data" swaggertype:"object"`
}

// sessionKey parses the key from path and query, failing the request with
// 400 when any component is not an integer.
func sessionKey(c *gin.Context) (session.Key, bool) {
	var k session.Key
	var ok1, ok2, ok3, ok4 bool
	k.BotID, ok1 = utils.ParseInt64(c.Param("bot"))
	k.ChatID, ok2 = utils.ParseInt64(c.Param("chat"))
	k.UserID, ok3 = utils.ParseInt64(c.Param("user"))
	k.ThreadID, ok4 = 0, true
	if t := c.Query("thread"); t != "" {
		k.ThreadID, ok4 = utils.ParseInt64(t)
	}
	if !ok1 || !ok2 || !ok3 || !ok4 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bot, chat, user and thread must be integers")
		return k, false
	}
	return k, true
}

// sessionFail maps store errors onto the envelope.
func sessionFail(c *gin.Context, err error) {
	if errors.Is(err, session.ErrUnavailable) {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("session store unavailable")
		fail(c, http.StatusServiceUnavailable, ErrCodeSessionUnavailable, "session store unavailable")
		return
	}
	failInternal(c, ErrCodeInternal, err)
}

// GetState godoc
// @ID          getSessionState
// @Summary     Read a session state
// @Tags        Sessions
// @Produce     json
// @Param       bot     path   int  true   "Bot id"
// @Param       chat    path   int  true   "Chat id"
// @Param       user    path   int  true   "User id"
// @Param       thread  query  int  false  "Forum topic id" default(0)
// @Success     200  {object}  handlers.StateResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad key"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /api/v1/sessions/{bot}/{chat}/{user}/state [get]
func (h *Handlers) GetState(c *gin.Context) {
	key, valid := sessionKey(c)
	if !valid {
		return
	}
	state, found, err := h.sessions.GetState(c.Request.Context(), key)
	if err != nil {
		sessionFail(c, err)
		return
	}
	var resp StateResponse
	if found {
		resp.State = &state
	}
	ok(c, http.StatusOK, resp)
}

// SetState godoc
// @ID          setSessionState
// @Summary     Set a session state
// @Description Stores the state label and restarts its TTL.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       bot     path   int  true   "Bot id"
// @Param       chat    path   int  true   "Chat id"
// @Param       user    path   int  true   "User id"
// @Param       thread  query  int  false  "Forum topic id" default(0)
// @Param       body    body   handlers.SetStateRequest  true  "State"
// @Success     200  {object}  handlers.StateResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /api/v1/sessions/{bot}/{chat}/{user}/state [put]
func (h *Handlers) SetState(c *gin.Context) {
	key, valid := sessionKey(c)
	if !valid {
		return
	}
	var req SetStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "state required (1–256 chars)")
		return
	}
	if err := h.sessions.SetState(c.Request.Context(), key, &req.State); err != nil {
		sessionFail(c, err)
		return
	}
	ok(c, http.StatusOK, StateResponse{State: &req.State})
}

// DeleteState godoc
// @ID          deleteSessionState
// @Summary     Clear a session state
// @Tags        Sessions
// @Param       bot     path   int  true   "Bot id"
// @Param       chat    path   int  true   "Chat id"
// @Param       user    path   int  true   "User id"
// @Param       thread  query  int  false  "Forum topic id" default(0)
// @Success     204  {string}  string  "No Content"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /api/v1/sessions/{bot}/{chat}/{user}/state [delete]
func (h *Handlers) DeleteState(c *gin.Context) {
	key, valid := sessionKey(c)
	if !valid {
		return
	}
	if err := h.sessions.SetState(c.Request.Context(), key, nil); err != nil {
		sessionFail(c, err)
		return
	}
	noContent(c)
}

// GetData godoc
// @ID          getSessionData
// @Summary     Read session data
// @Description Returns the attribute bag; {} when absent, expired or unreadable.
// @Tags        Sessions
// @Produce     json
// @Param       bot     path   int  true   "Bot id"
// @Param       chat    path   int  true   "Chat id"
// @Param       user    path   int  true   "User id"
// @Param       thread  query  int  false  "Forum topic id" default(0)
// @Success     200  {object}  handlers.DataResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /api/v1/sessions/{bot}/{chat}/{user}/data [get]
func (h *Handlers) GetData(c *gin.Context) {
	key, valid := sessionKey(c)
	if !valid {
		return
	}
	data, err := h.sessions.GetData(c.Request.Context(), key)
	if err != nil {
		sessionFail(c, err)
		return
	}
	ok(c, http.StatusOK, DataResponse{Data: data})
}

// SetData godoc
// @ID          setSessionData
// @Summary     Replace session data
// @Description Replaces the whole bag; an empty bag deletes it.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       bot     path   int  true   "Bot id"
// @Param       chat    path   int  true   "Chat id"
// @Param       user    path   int  true   "User id"
// @Param       thread  query  int  false  "Forum topic id" default(0)
// @Param       body    body   handlers.DataRequest  true  "Data"
// @Success     200  {object}  handlers.DataResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /api/v1/sessions/{bot}/{chat}/{user}/data [put]
func (h *Handlers) SetData(c *gin.Context) {
	key, valid := sessionKey(c)
	if !valid {
		return
	}
	var req DataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := h.sessions.SetData(c.Request.Context(), key, req.Data); err != nil {
		sessionFail(c, err)
		return
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	ok(c, http.StatusOK, DataResponse{Data: req.Data})
}

// UpdateData godoc
// @ID          updateSessionData
// @Summary     Merge into session data
// @Description Merges the given fields into the bag and returns the result.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       bot     path   int  true   "Bot id"
// @Param       chat    path   int  true   "Chat id"
// @Param       user    path   int  true   "User id"
// @Param       thread  query  int  false  "Forum topic id" default(0)
// @Param       body    body   handlers.DataRequest  true  "Fields to merge"
// @Success     200  {object}  handlers.DataResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /api/v1/sessions/{bot}/{chat}/{user}/data [patch]
func (h *Handlers) UpdateData(c *gin.Context) {
	key, valid := sessionKey(c)
	if !valid {
		return
	}
	var req DataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	merged, err := h.sessions.UpdateData(c.Request.Context(), key, req.Data)
	if err != nil {
		sessionFail(c, err)
		return
	}
	ok(c, http.StatusOK, DataResponse{Data: merged})
}
