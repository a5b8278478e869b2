// Package chat provides an HTTP and WebSocket client for the chat server.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Client is a chat API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	UserID     string
	SessionID  string
	HTTPClient *http.Client
}

// Config holds the persisted login.
type Config struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// NewClient creates a new client and loads any saved session.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("CHAT_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".chat")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads the saved session from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "session.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	c.UserID = config.UserID
	c.SessionID = config.SessionID
	return nil
}

// SaveConfig saves the current session to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Config{UserID: c.UserID, SessionID: c.SessionID}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "session.json"), data, 0600)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status     int
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes the JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.SessionID != "" {
		req.Header.Set("X-User-ID", c.UserID)
		req.Header.Set("X-Session-ID", c.SessionID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		retry, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &APIError{Status: resp.StatusCode, Message: errResp.Error, RetryAfter: retry}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// User is a public user profile.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// RegisterResponse is the response from registration.
type RegisterResponse struct {
	User       User   `json:"user"`
	ProfileURL string `json:"profileUrl"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, name, email, password string) (*RegisterResponse, error) {
	req := map[string]string{"name": name, "email": email, "password": password}
	var resp RegisterResponse
	if err := c.doRequest(ctx, http.MethodPost, "/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginResponse is the response from login.
type LoginResponse struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	User      User   `json:"user"`
}

// Login starts a session and keeps its credentials on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	req := map[string]string{"email": email, "password": password}
	var resp LoginResponse
	if err := c.doRequest(ctx, http.MethodPost, "/login", req, &resp); err != nil {
		return nil, err
	}
	c.UserID = resp.UserID
	c.SessionID = resp.SessionID
	return &resp, nil
}

// Logout ends the current session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodPost, "/logout", nil, nil); err != nil {
		return err
	}
	c.SessionID = ""
	return nil
}

// Room is a chat room.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []User    `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateRoom creates a room with the caller and participants as members.
func (c *Client) CreateRoom(ctx context.Context, name string, participants ...string) (*Room, error) {
	req := map[string]any{"name": name, "participants": participants}
	var resp Room
	if err := c.doRequest(ctx, http.MethodPost, "/rooms", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinRoom adds the caller to a room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) (*Room, error) {
	var resp Room
	if err := c.doRequest(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/join", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// File describes an attachment on a message.
type File struct {
	FileURL     string `json:"fileUrl"`
	FileName    string `json:"fileName"`
	Mimetype    string `json:"mimetype"`
	Size        int64  `json:"size"`
	Previewable bool   `json:"previewable"`
}

// Message is a broadcast chat message.
type Message struct {
	ID        string              `json:"id"`
	RoomID    string              `json:"roomId"`
	Content   string              `json:"content"`
	Type      string              `json:"type"`
	Timestamp int64               `json:"timestamp"`
	Reactions map[string][]string `json:"reactions"`
	Sender    User                `json:"sender"`
	File      *File               `json:"file,omitempty"`
}

// MessagesResponse is a page of room history, oldest first.
type MessagesResponse struct {
	Room     Room      `json:"room"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

// GetMessages reads room history. A zero before reads the latest page.
func (c *Client) GetMessages(ctx context.Context, roomID string, limit int, before int64) (*MessagesResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	path := "/rooms/" + url.PathEscape(roomID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp MessagesResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostMessageResponse identifies a stored message. It is nil when the
// server ignored an empty message.
type PostMessageResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// PostMessage sends a text message over HTTP.
func (c *Client) PostMessage(ctx context.Context, roomID, content string) (*PostMessageResponse, error) {
	req := map[string]string{"type": "text", "content": content}
	var resp PostMessageResponse
	if err := c.doRequest(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/messages", req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, nil
	}
	return &resp, nil
}

// Profile is a user's public profile.
type Profile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
	JoinedAt     string `json:"joinedAt"`
}

// GetUser gets a user's profile.
func (c *Client) GetUser(ctx context.Context, userID string) (*Profile, error) {
	var resp Profile
	if err := c.doRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Instance  string         `json:"instance,omitempty"`
	Checks    map[string]any `json:"checks"`
	Timestamp string         `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
