package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-teamchat/internal/types"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxEventSize   = 4096
	sendBufferSize = 256

	// Inbound events per session: sustained rate and burst.
	eventRate  rate.Limit = 20
	eventBurst            = 40
)

// Session is one live connection for an authenticated user. It owns the
// websocket and runs a read pump and a write pump; all inbound events
// for the connection are dispatched from the read pump, one at a time.
type Session struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerEvent
	limiter    *rate.Limiter
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewSession(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Session {
	return &Session{
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerEvent, sendBufferSize),
		limiter:    rate.NewLimiter(eventRate, eventBurst),
		stop:       make(chan struct{}),
	}
}

func (s *Session) User() types.User {
	return s.user
}

func (s *Session) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.log.Println("write exiting")
	}()

	for {
		select {
		case evt, ok := <-s.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(evt)
			if err != nil {
				s.log.Println("failed to serialize event:", err)
				continue
			}

			if !s.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (s *Session) Read() {
	defer func() {
		s.conn.Close()
		s.cleanup()
		s.log.Println("read exiting")
	}()

	s.conn.SetReadLimit(maxEventSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("ws: read: %v", err)
			}
			break
		}

		var evt ClientEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			s.log.Println("error parsing event:", err)
			s.queueEvent(ErrInvalidEvent(0))
			continue
		}

		if !s.limiter.Allow() {
			s.queueEvent(ErrRateLimited(evt.Id))
			continue
		}

		evt.session = s
		evt.Timestamp = Now()
		s.dispatch(&evt)
	}
}

// dispatch routes one inbound event. Unknown or empty events are
// rejected; everything else funnels into the core components.
func (s *Session) dispatch(evt *ClientEvent) {
	switch {
	case evt.Join != nil:
		s.handleJoin(evt)
	case evt.Leave != nil:
		s.handleLeave(evt)
	case evt.Typing != nil:
		s.chatServer.Typing(s, evt.Typing.ChannelId, false)
	case evt.StopTyping != nil:
		s.chatServer.Typing(s, evt.StopTyping.ChannelId, true)
	case evt.Delivered != nil:
		if _, err := s.chatServer.Delivery().MarkDelivered(evt.Delivered.MessageId, s.user.Id); err != nil {
			s.replyError(evt.Id, err)
		}
	case evt.Read != nil:
		if _, err := s.chatServer.Delivery().MarkRead(evt.Read.MessageId, s.user.Id); err != nil {
			s.replyError(evt.Id, err)
		}
	default:
		s.queueEvent(ErrInvalidEvent(evt.Id))
	}
}

func (s *Session) handleJoin(evt *ClientEvent) {
	router := s.chatServer.Router()

	switch {
	case evt.Join.ChannelId != "":
		channelId := evt.Join.ChannelId
		isMember, err := s.chatServer.db.IsMember(channelId, s.user.Id)
		if err != nil {
			s.queueEvent(ErrChannelNotFound(evt.Id))
			return
		}
		if !isMember {
			s.queueEvent(ErrNotAMember(evt.Id))
			return
		}

		router.Subscribe(s, ChannelRoom(channelId))
		router.Publish(ChannelRoom(channelId), &ServerEvent{
			BaseEvent:  BaseEvent{Timestamp: Now()},
			UserJoined: &PresenceChange{User: s.user, ChannelId: channelId},
			skip:       s,
		})
		s.queueEvent(NoErrOK(evt.Id, nil))
	case evt.Join.ThreadId != "":
		if _, err := s.chatServer.db.GetMessage(evt.Join.ThreadId); err != nil {
			s.queueEvent(ErrMessageNotFound(evt.Id))
			return
		}

		router.Subscribe(s, ThreadRoom(evt.Join.ThreadId))
		s.queueEvent(NoErrOK(evt.Id, nil))
	default:
		s.queueEvent(ErrInvalidEvent(evt.Id))
	}
}

func (s *Session) handleLeave(evt *ClientEvent) {
	router := s.chatServer.Router()

	switch {
	case evt.Leave.ChannelId != "":
		channelId := evt.Leave.ChannelId
		router.Unsubscribe(s, ChannelRoom(channelId))
		router.Publish(ChannelRoom(channelId), &ServerEvent{
			BaseEvent: BaseEvent{Timestamp: Now()},
			UserLeft:  &PresenceChange{User: s.user, ChannelId: channelId},
		})
		s.queueEvent(NoErrOK(evt.Id, nil))
	case evt.Leave.ThreadId != "":
		router.Unsubscribe(s, ThreadRoom(evt.Leave.ThreadId))
		s.queueEvent(NoErrOK(evt.Id, nil))
	default:
		s.queueEvent(ErrInvalidEvent(evt.Id))
	}
}

func (s *Session) replyError(id int, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		s.queueEvent(ErrMessageNotFound(id))
	case errors.Is(err, ErrPermission):
		s.queueEvent(ErrNotAMember(id))
	default:
		s.log.Println("event failed:", err)
		s.queueEvent(ErrInternalError(id))
	}
}

func (s *Session) queueEvent(evt *ServerEvent) bool {
	select {
	case s.send <- evt:
	default:
		s.log.Println("failed to queue event, send buffer full")
		return false
	}

	return true
}

func (s *Session) writeMessage(msgType int, msg []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := s.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (s *Session) stopSession() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *Session) cleanup() {
	s.chatServer.deregisterSession(s)
	s.stopSession()
}
