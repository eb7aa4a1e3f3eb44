// Package mockserver is an in-memory development backend: the REST
// directory, token issuance and the WebSocket chat endpoint.
package mockserver

import (
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// DefaultTokenTTL is the lifetime of tokens issued by POST /auth/token.
const DefaultTokenTTL = 24 * time.Hour

// User is a registered account.
type User struct {
	ID    string
	Phone string
	Name  string
}

// Server holds all backend state in memory.
type Server struct {
	secret []byte
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	users       map[string]*User // by phone
	rooms       map[string]*store.ChatRoom
	messages    map[string][]store.Message
	communities []store.Community
	nextUserID  int
	nextMsgID   int64

	hub      *hub
	upgrader websocket.Upgrader
}

// New creates an empty backend signing tokens with secret.
func New(secret string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		secret:   []byte(secret),
		logger:   logger,
		now:      time.Now,
		users:    make(map[string]*User),
		rooms:    make(map[string]*store.ChatRoom),
		messages: make(map[string][]store.Message),
		hub:      newHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "chatsync-mock"})
	})
	router.POST("/auth/token", s.issueToken)

	protected := router.Group("/")
	protected.Use(s.requireAuth())
	{
		protected.GET("/contacts/saved", s.savedContacts)
		protected.GET("/chat-rooms", s.listRooms)
		protected.POST("/chat-rooms", s.createRoom)
		protected.GET("/communities", s.listCommunities)
		protected.GET("/ws", s.serveWS)
	}
	return router
}

// AddUser registers a user, or returns the existing one for phone.
func (s *Server) AddUser(phone, name string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.addUserLocked(phone, name)
}

func (s *Server) addUserLocked(phone, name string) *User {
	if u, ok := s.users[phone]; ok {
		if name != "" {
			u.Name = name
		}
		return u
	}
	s.nextUserID++
	u := &User{ID: itoa(int64(s.nextUserID)), Phone: phone, Name: name}
	s.users[phone] = u
	return u
}

// AddCommunity publishes a community in the directory.
func (s *Server) AddCommunity(c store.Community) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	s.communities = append(s.communities, c)
}

// AddMessage stores m as if it had been sent earlier. It does not push.
func (s *Server) AddMessage(m store.Message) store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		s.nextMsgID++
		m.ID = itoa(s.nextMsgID)
	}
	s.messages[m.RoomID] = append(s.messages[m.RoomID], m)
	return m
}

// Room returns a copy of a room, or nil.
func (s *Server) Room(roomID string) *store.ChatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	cp := *r
	cp.Participants = slices.Clone(r.Participants)
	return &cp
}

type tokenRequest struct {
	Phone string `json:"phone" binding:"required"`
	Name  string `json:"name"`
}

func (s *Server) issueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u := s.AddUser(req.Phone, req.Name)
	token, err := s.Mint(u, DefaultTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"token": token, "userId": u.ID}})
}

// savedContacts lists every other registered user.
func (s *Server) savedContacts(c *gin.Context) {
	self := c.GetString(ctxPhone)
	s.mu.Lock()
	out := make([]directory.ContactDTO, 0, len(s.users))
	for _, u := range s.users {
		if u.Phone == self {
			continue
		}
		out = append(out, directory.ContactDTO{Phone: u.Phone, Name: u.Name, Profile: "https://example.invalid/avatar/" + u.ID})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) listRooms(c *gin.Context) {
	self := c.GetString(ctxPhone)
	s.mu.Lock()
	out := make([]directory.RoomDTO, 0)
	for _, r := range s.rooms {
		if member(r, self) {
			out = append(out, directory.RoomFromStore(*r))
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) createRoom(c *gin.Context) {
	var req directory.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Phones) != 2 || req.Phones[0] == req.Phones[1] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly two distinct phones required"})
		return
	}
	if self := c.GetString(ctxPhone); !slices.Contains(req.Phones, self) {
		c.JSON(http.StatusForbidden, gin.H{"error": "caller must be a participant"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.Type == store.RoomPrivate && member(r, req.Phones[0]) && member(r, req.Phones[1]) {
			c.JSON(http.StatusOK, gin.H{"data": directory.RoomFromStore(*r)})
			return
		}
	}
	room := &store.ChatRoom{
		RoomID:    uuid.NewString(),
		Type:      store.RoomPrivate,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	for _, phone := range req.Phones {
		u := s.addUserLocked(phone, "")
		room.Participants = append(room.Participants, store.Participant{ID: u.ID, Phone: u.Phone})
	}
	s.rooms[room.RoomID] = room
	s.logger.Info("room created", zap.String("room", room.RoomID))
	c.JSON(http.StatusCreated, gin.H{"data": directory.RoomFromStore(*room)})
}

func (s *Server) listCommunities(c *gin.Context) {
	s.mu.Lock()
	out := make([]directory.CommunityDTO, 0, len(s.communities))
	for _, cm := range s.communities {
		out = append(out, directory.CommunityFromStore(cm))
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func member(r *store.ChatRoom, phone string) bool {
	for _, p := range r.Participants {
		if p.Phone == phone {
			return true
		}
	}
	return false
}
