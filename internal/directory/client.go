// Package directory talks to the backend's REST directory (saved
// contacts, chat rooms, communities) and mirrors it into the local store.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
)

// TokenFunc returns the bearer token sent with every request.
type TokenFunc func() (string, error)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Code)
}

// Client is a REST client for the directory endpoints.
type Client struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string, token TokenFunc) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ContactDTO is a saved contact on the wire.
type ContactDTO struct {
	Phone   string `json:"phone"`
	Name    string `json:"name,omitempty"`
	Profile string `json:"profile,omitempty"`
}

// ParticipantDTO is a room member on the wire.
type ParticipantDTO struct {
	ID    transport.ID `json:"id,omitempty"`
	Phone string       `json:"phone"`
}

// RoomDTO is a chat room on the wire.
type RoomDTO struct {
	RoomID       transport.ID     `json:"roomId"`
	RoomType     string           `json:"roomType,omitempty"`
	CreatedAt    string           `json:"createdAt"`
	Participants []ParticipantDTO `json:"participants"`
}

// CommunityDTO is a community on the wire.
type CommunityDTO struct {
	ID          transport.ID `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Visibility  string       `json:"visibility"`
	Type        string       `json:"type"`
	CreatedAt   string       `json:"createdAt"`
}

// CreateRoomRequest is the body of POST /chat-rooms.
type CreateRoomRequest struct {
	Phones []string `json:"phones"`
}

type envelope[T any] struct {
	Data  T      `json:"data"`
	Error string `json:"error,omitempty"`
}

// SavedContacts fetches the user's saved contacts.
func (c *Client) SavedContacts(ctx context.Context) ([]store.Contact, error) {
	var dtos []ContactDTO
	if err := c.do(ctx, http.MethodGet, "/contacts/saved", nil, &dtos); err != nil {
		return nil, err
	}
	contacts := make([]store.Contact, 0, len(dtos))
	for _, d := range dtos {
		if d.Phone == "" {
			continue
		}
		contacts = append(contacts, store.Contact{Phone: d.Phone, Name: d.Name, Profile: d.Profile})
	}
	return contacts, nil
}

// ChatRooms fetches the rooms the user participates in.
func (c *Client) ChatRooms(ctx context.Context) ([]store.ChatRoom, error) {
	var dtos []RoomDTO
	if err := c.do(ctx, http.MethodGet, "/chat-rooms", nil, &dtos); err != nil {
		return nil, err
	}
	rooms := make([]store.ChatRoom, 0, len(dtos))
	for _, d := range dtos {
		r, err := d.ToStore()
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, nil
}

// CreateChatRoom creates a private room between two phones.
func (c *Client) CreateChatRoom(ctx context.Context, phoneA, phoneB string) (*store.ChatRoom, error) {
	var dto RoomDTO
	if err := c.do(ctx, http.MethodPost, "/chat-rooms", CreateRoomRequest{Phones: []string{phoneA, phoneB}}, &dto); err != nil {
		return nil, err
	}
	r, err := dto.ToStore()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Communities fetches the communities visible to the user.
func (c *Client) Communities(ctx context.Context) ([]store.Community, error) {
	var dtos []CommunityDTO
	if err := c.do(ctx, http.MethodGet, "/communities", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]store.Community, 0, len(dtos))
	for _, d := range dtos {
		cm, err := d.ToStore()
		if err != nil {
			return nil, err
		}
		out = append(out, cm)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token()
		if err != nil {
			return fmt.Errorf("credential: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Method: method, Path: path, Code: resp.StatusCode}
		var env envelope[json.RawMessage]
		if json.Unmarshal(raw, &env) == nil {
			serr.Message = env.Error
		}
		return serr
	}

	env := envelope[any]{Data: out}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// ToStore validates d and converts it to a local room.
func (d RoomDTO) ToStore() (store.ChatRoom, error) {
	if d.RoomID == "" {
		return store.ChatRoom{}, fmt.Errorf("room without id")
	}
	roomType := store.RoomType(d.RoomType)
	if roomType == "" {
		roomType = store.RoomPrivate
	}
	if !roomType.Valid() {
		return store.ChatRoom{}, fmt.Errorf("room %s: unknown type %q", d.RoomID, d.RoomType)
	}
	r := store.ChatRoom{RoomID: string(d.RoomID), Type: roomType}
	if d.CreatedAt != "" {
		t, err := transport.ParseTime(d.CreatedAt)
		if err != nil {
			return store.ChatRoom{}, fmt.Errorf("room %s: createdAt: %w", d.RoomID, err)
		}
		r.CreatedAt = t
	}
	for _, p := range d.Participants {
		r.Participants = append(r.Participants, store.Participant{ID: string(p.ID), Phone: p.Phone})
	}
	return r, nil
}

// RoomFromStore converts a local room to its wire form.
func RoomFromStore(r store.ChatRoom) RoomDTO {
	d := RoomDTO{RoomID: transport.ID(r.RoomID), RoomType: string(r.Type), CreatedAt: transport.FormatTime(r.CreatedAt)}
	for _, p := range r.Participants {
		d.Participants = append(d.Participants, ParticipantDTO{ID: transport.ID(p.ID), Phone: p.Phone})
	}
	return d
}

// ToStore validates d and converts it to a local community.
func (d CommunityDTO) ToStore() (store.Community, error) {
	if d.ID == "" {
		return store.Community{}, fmt.Errorf("community without id")
	}
	c := store.Community{
		ID:          string(d.ID),
		Name:        d.Name,
		Description: d.Description,
		Visibility:  store.Visibility(d.Visibility),
		Type:        store.CommunityType(d.Type),
	}
	if c.Visibility == "" {
		c.Visibility = store.VisibilityPublic
	}
	if d.CreatedAt != "" {
		t, err := transport.ParseTime(d.CreatedAt)
		if err != nil {
			return store.Community{}, fmt.Errorf("community %s: createdAt: %w", d.ID, err)
		}
		c.CreatedAt = t
	}
	return c, nil
}

// CommunityFromStore converts a local community to its wire form.
func CommunityFromStore(c store.Community) CommunityDTO {
	return CommunityDTO{
		ID:          transport.ID(c.ID),
		Name:        c.Name,
		Description: c.Description,
		Visibility:  string(c.Visibility),
		Type:        string(c.Type),
		CreatedAt:   transport.FormatTime(c.CreatedAt),
	}
}
