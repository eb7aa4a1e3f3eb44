package mockserver

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// client is one WebSocket connection.
type client struct {
	userID string
	phone  string
	conn   *websocket.Conn
	send   chan []byte
}

// hub tracks live connections by user.
type hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(logger *zap.Logger) *hub {
	return &hub{logger: logger, clients: make(map[*client]struct{})}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// deliver queues frame for every connection of the given phones. A
// connection whose buffer is full is dropped.
func (h *hub) deliver(phones []string, frame []byte) {
	want := make(map[string]bool, len(phones))
	for _, p := range phones {
		want[p] = true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !want[c.phone] {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping slow client", zap.String("user", c.userID))
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Connections returns the number of live WebSocket connections.
func (s *Server) Connections() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return len(s.hub.clients)
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	cl := &client{
		userID: c.GetString(ctxUserID),
		phone:  c.GetString(ctxPhone),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	s.hub.register(cl)
	s.logger.Info("client connected", zap.String("user", cl.userID))

	go s.writePump(cl)
	go s.readPump(cl)
}

func (s *Server) readPump(cl *client) {
	defer func() {
		s.hub.unregister(cl)
		_ = cl.conn.Close()
		s.logger.Info("client disconnected", zap.String("user", cl.userID))
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	cl.conn.SetPingHandler(func(data string) error {
		_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := cl.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("read error", zap.Error(err), zap.String("user", cl.userID))
			}
			return
		}
		f, err := transport.ParseFrame(data)
		if err != nil {
			s.logger.Warn("bad frame", zap.Error(err), zap.String("user", cl.userID))
			continue
		}
		switch f.Action {
		case transport.ActionGetMessages:
			s.handleFetch(cl, f.Data)
		case transport.ActionSendMessage:
			s.handleSend(cl, f.Data)
		default:
			s.logger.Debug("ignoring action", zap.String("action", f.Action))
		}
	}
}

func (s *Server) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFetch answers with the room's messages on the requested day.
func (s *Server) handleFetch(cl *client, data []byte) {
	var req transport.FetchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn("bad fetch request", zap.Error(err))
		return
	}

	s.mu.Lock()
	room, ok := s.rooms[req.RoomID]
	var msgs []store.Message
	if ok && member(room, cl.phone) {
		for _, m := range s.messages[req.RoomID] {
			if m.Date() == req.Date {
				msgs = append(msgs, m)
			}
		}
	}
	s.mu.Unlock()

	frame, err := transport.EncodeEvent(transport.MessagesFetched{RoomID: req.RoomID, Date: req.Date, Messages: msgs})
	if err != nil {
		s.logger.Error("encode fetch response", zap.Error(err))
		return
	}
	s.hub.deliverTo(cl, frame)
}

// handleSend stores an outgoing message under a server-assigned id and
// pushes it to every participant, the sender included.
func (s *Server) handleSend(cl *client, data []byte) {
	var out transport.OutgoingMessage
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Warn("bad send request", zap.Error(err))
		return
	}

	s.mu.Lock()
	room, ok := s.rooms[out.RoomID]
	if !ok || !member(room, cl.phone) {
		s.mu.Unlock()
		s.logger.Warn("send to unknown room", zap.String("room", out.RoomID), zap.String("user", cl.userID))
		return
	}
	createdAt, err := transport.ParseTime(out.CreatedAt)
	if err != nil {
		createdAt = s.now().UTC().Truncate(time.Millisecond)
	}
	s.nextMsgID++
	msgType := out.Type
	if !msgType.Valid() {
		msgType = store.TypeText
	}
	m := store.Message{
		ID:          itoa(s.nextMsgID),
		RoomID:      out.RoomID,
		SenderID:    cl.userID,
		RecipientID: out.RecipientID,
		Content:     out.Content,
		Type:        msgType,
		CreatedAt:   createdAt,
		Received:    true,
	}
	s.messages[m.RoomID] = append(s.messages[m.RoomID], m)
	phones := make([]string, 0, len(room.Participants))
	for _, p := range room.Participants {
		phones = append(phones, p.Phone)
	}
	s.mu.Unlock()

	frame, err := transport.EncodeEvent(transport.MessagePushed{Message: m})
	if err != nil {
		s.logger.Error("encode push", zap.Error(err))
		return
	}
	s.hub.deliver(phones, frame)
}

func (h *hub) deliverTo(c *client, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.logger.Warn("dropping slow client", zap.String("user", c.userID))
		delete(h.clients, c)
		close(c.send)
	}
}

// Push delivers m to the room's participants as if another client had
// sent it, and stores it.
func (s *Server) Push(m store.Message) (store.Message, error) {
	m = s.AddMessage(m)
	var phones []string
	if r := s.Room(m.RoomID); r != nil {
		for _, p := range r.Participants {
			phones = append(phones, p.Phone)
		}
	}
	frame, err := transport.EncodeEvent(transport.MessagePushed{Message: m})
	if err != nil {
		return m, err
	}
	s.hub.deliver(phones, frame)
	return m, nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
