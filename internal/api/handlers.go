package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-teamchat/internal/server"
	"github.com/npezzotti/go-teamchat/internal/store"
	"github.com/npezzotti/go-teamchat/internal/types"
)

func (s *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check failed:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// coreError maps the core's error taxonomy onto HTTP responses.
func (s *ChatApp) coreError(err error) *ApiError {
	switch {
	case errors.Is(err, server.ErrNotFound) || errors.Is(err, store.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, server.ErrPermission):
		return NewForbiddenError()
	case errors.Is(err, server.ErrConflict) || errors.Is(err, store.ErrAlreadyExists):
		return NewConflictError()
	case errors.Is(err, server.ErrInvalidState):
		return NewUnprocessableEntityError()
	default:
		return NewInternalServerError(err)
	}
}

func (s *ChatApp) mustUserId(w http.ResponseWriter, r *http.Request) (string, bool) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return "", false
	}
	return userId, true
}

type CreateChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
}

func (s *ChatApp) createChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channel, err := s.db.CreateChannel(store.CreateChannelParams{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   userId,
		IsPrivate:   req.IsPrivate,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, channel)
}

func (s *ChatApp) listChannels(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	channels, err := s.db.ListUserChannels(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if channels == nil {
		channels = []types.Channel{}
	}

	s.writeJson(w, http.StatusOK, channels)
}

func (s *ChatApp) getChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	channel, err := s.db.GetChannel(r.PathValue("id"))
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !channel.HasMember(userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, channel)
}

type UpdateChannelRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Topic       *string `json:"topic"`
}

func (s *ChatApp) updateChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	var req UpdateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channel, err := s.cs.UpdateChannel(r.PathValue("id"), userId, func(c *types.Channel) error {
		if req.Name != nil {
			c.Name = *req.Name
		}
		if req.Description != nil {
			c.Description = *req.Description
		}
		if req.Topic != nil {
			c.Topic = *req.Topic
		}
		return nil
	})
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, channel)
}

func (s *ChatApp) getChannelMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	var before time.Time
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		var err error
		before, err = time.Parse(time.RFC3339, beforeStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.cs.ListChannelMessages(r.PathValue("id"), userId, before, limit)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if messages == nil {
		messages = []types.Message{}
	}

	s.writeJson(w, http.StatusOK, messages)
}

type CreateMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

func (s *ChatApp) createMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.cs.SendMessage(r.PathValue("id"), userId, req.Content, req.MessageType)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

type UpdateMessageRequest struct {
	Content string `json:"content"`
}

func (s *ChatApp) updateMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	var req UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.cs.EditMessage(r.PathValue("id"), userId, req.Content)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *ChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	if err := s.cs.DeleteMessage(r.PathValue("id"), userId); err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"message": "message deleted"})
}

func (s *ChatApp) getReplies(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	parent, err := s.db.GetMessage(r.PathValue("id"))
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	isMember, err := s.db.IsMember(parent.ChannelId, userId)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !isMember {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	replies, err := s.cs.Threads().GetReplies(parent.Id)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if replies == nil {
		replies = []types.Message{}
	}

	s.writeJson(w, http.StatusOK, replies)
}

func (s *ChatApp) createReply(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	reply, err := s.cs.Threads().CreateReply(r.PathValue("id"), userId, req.Content, req.MessageType)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, reply)
}

type DirectChannelResponse struct {
	Channel  types.Channel   `json:"channel"`
	Messages []types.Message `json:"messages"`
}

func (s *ChatApp) getDirectChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	otherId := r.PathValue("user")
	if otherId == userId {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channel, err := s.db.GetOrCreateDirectChannel(userId, otherId)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.cs.ListChannelMessages(channel.Id, userId, time.Time{}, 0)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if messages == nil {
		messages = []types.Message{}
	}

	s.writeJson(w, http.StatusOK, DirectChannelResponse{Channel: channel, Messages: messages})
}

type CreateInvitationRequest struct {
	ChannelId string `json:"channel_id"`
	InviteeId string `json:"invitee_id"`
}

func (s *ChatApp) createInvitation(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	var req CreateInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelId == "" || req.InviteeId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	inv, err := s.cs.Notifications().Invite(req.ChannelId, userId, req.InviteeId)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, inv)
}

func (s *ChatApp) getPendingInvitations(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	invitations, err := s.db.ListPendingInvitations(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if invitations == nil {
		invitations = []types.Invitation{}
	}

	s.writeJson(w, http.StatusOK, invitations)
}

func (s *ChatApp) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	inv, err := s.cs.Notifications().Accept(r.PathValue("id"), userId)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, inv)
}

func (s *ChatApp) rejectInvitation(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	inv, err := s.cs.Notifications().Reject(r.PathValue("id"), userId)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, inv)
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.mustUserId(w, r)
	if !ok {
		return
	}

	user, err := s.db.GetUserById(userId)
	if err != nil {
		errResp := s.coreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	user.Password = ""
	sess := server.NewSession(user, conn, s.cs, s.log)

	if err := s.cs.RegisterSession(sess); err != nil {
		s.log.Println("error registering session:", err)
		conn.Close()
		return
	}

	go sess.Write()
	go sess.Read()
}
