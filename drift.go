// Package drift provides the official Go SDK for the Drift hosted chat
// backend: contacts, direct and group messaging, presence, file messages,
// and the optimistic send/reconcile pipeline used by Drift clients.
//
// Example:
//
//	client := drift.NewClient(token)
//
//	// Chat API (sub-module pattern)
//	client.Chat().Direct.Send(ctx, "user-123", "Hello!", nil)
//	client.Chat().Groups.List(ctx)
//	client.Chat().Conversations.List(ctx, true)
//
//	// Optimistic view for one conversation
//	view := drift.NewConversationView(me.User.ID, drift.DirectTarget("user-123"))
package drift

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

var environments = map[Environment]string{
	Production: "https://api.driftapp.chat",
	Staging:    "https://staging.api.driftapp.chat",
}

const (
	DefaultBaseURL = "https://api.driftapp.chat"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	userAgent  string
	httpClient *http.Client
	chat       *ChatClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithUserAgent(agent string) ClientOption {
	return func(c *Client) { c.userAgent = agent }
}

// NewClient creates a new Drift client.
// token is optional; pass "" and call SetToken after registration.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.chat = newChatClient(c)
	return c
}

// SetToken sets or updates the auth token.
// Useful after registration to set the returned JWT.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Chat returns the chat API sub-client.
func (c *Client) Chat() *ChatClient {
	return c.chat
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Chat Client (orchestrates sub-modules)
// ============================================================================

// ChatClient provides access to the chat API via sub-modules.
type ChatClient struct {
	client *Client

	Account       *AccountClient
	Direct        *DirectClient
	Groups        *GroupsClient
	Conversations *ConversationsClient
	Messages      *MessagesClient
	Contacts      *ContactsClient
	Files         *FilesClient
	Realtime      *RealtimeFactory
}

func newChatClient(c *Client) *ChatClient {
	ch := &ChatClient{client: c}
	ch.Account = &AccountClient{chat: ch}
	ch.Direct = &DirectClient{chat: ch}
	ch.Groups = &GroupsClient{chat: ch}
	ch.Conversations = &ConversationsClient{chat: ch}
	ch.Messages = &MessagesClient{chat: ch}
	ch.Contacts = &ContactsClient{chat: ch}
	ch.Files = &FilesClient{chat: ch}
	ch.Realtime = &RealtimeFactory{chat: ch}
	return ch
}

func (ch *ChatClient) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := ch.client.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

// Health checks chat service health.
func (ch *ChatClient) Health(ctx context.Context) (*Result, error) {
	return ch.do(ctx, "GET", "/api/chat/health", nil, nil)
}

func paginationQuery(opts *PageOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Limit > 0 {
		q["limit"] = fmt.Sprintf("%d", opts.Limit)
	}
	if opts.Offset > 0 {
		q["offset"] = fmt.Sprintf("%d", opts.Offset)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Chat Sub-Clients
// ============================================================================

// AccountClient handles registration and identity.
type AccountClient struct{ chat *ChatClient }

func (a *AccountClient) Register(ctx context.Context, opts *RegisterOptions) (*Result, error) {
	return a.chat.do(ctx, "POST", "/api/chat/register", opts, nil)
}

// Me returns the current authenticated user's identity and stats.
func (a *AccountClient) Me(ctx context.Context) (*Result, error) {
	return a.chat.do(ctx, "GET", "/api/chat/me", nil, nil)
}

func (a *AccountClient) RefreshToken(ctx context.Context) (*Result, error) {
	return a.chat.do(ctx, "POST", "/api/chat/token/refresh", nil, nil)
}

// DirectClient handles direct messaging.
type DirectClient struct{ chat *ChatClient }

func (d *DirectClient) Send(ctx context.Context, userID, content string, opts *SendMessageOptions) (*Result, error) {
	body := SendMessageOptions{ReceiverID: userID, Content: content, Kind: KindText}
	if opts != nil {
		if opts.Kind != "" {
			body.Kind = opts.Kind
		}
		body.File = opts.File
	}
	return d.chat.do(ctx, "POST", "/api/chat/direct/"+userID+"/messages", &body, nil)
}

func (d *DirectClient) Messages(ctx context.Context, userID string, opts *PageOptions) (*Result, error) {
	return d.chat.do(ctx, "GET", "/api/chat/direct/"+userID+"/messages", nil, paginationQuery(opts))
}

// GroupsClient handles group management and messaging.
type GroupsClient struct{ chat *ChatClient }

func (g *GroupsClient) Create(ctx context.Context, opts *CreateGroupOptions) (*Result, error) {
	return g.chat.do(ctx, "POST", "/api/chat/groups", opts, nil)
}

func (g *GroupsClient) List(ctx context.Context) (*Result, error) {
	return g.chat.do(ctx, "GET", "/api/chat/groups", nil, nil)
}

func (g *GroupsClient) Get(ctx context.Context, groupID string) (*Result, error) {
	return g.chat.do(ctx, "GET", "/api/chat/groups/"+groupID, nil, nil)
}

func (g *GroupsClient) Send(ctx context.Context, groupID, content string, opts *SendMessageOptions) (*Result, error) {
	body := SendMessageOptions{GroupID: groupID, Content: content, Kind: KindText}
	if opts != nil {
		if opts.Kind != "" {
			body.Kind = opts.Kind
		}
		body.File = opts.File
	}
	return g.chat.do(ctx, "POST", "/api/chat/groups/"+groupID+"/messages", &body, nil)
}

func (g *GroupsClient) Messages(ctx context.Context, groupID string, opts *PageOptions) (*Result, error) {
	return g.chat.do(ctx, "GET", "/api/chat/groups/"+groupID+"/messages", nil, paginationQuery(opts))
}

func (g *GroupsClient) AddMember(ctx context.Context, groupID, userID string) (*Result, error) {
	return g.chat.do(ctx, "POST", "/api/chat/groups/"+groupID+"/members", map[string]string{"userId": userID}, nil)
}

func (g *GroupsClient) RemoveMember(ctx context.Context, groupID, userID string) (*Result, error) {
	return g.chat.do(ctx, "DELETE", "/api/chat/groups/"+groupID+"/members/"+userID, nil, nil)
}

// ConversationsClient handles conversation management.
type ConversationsClient struct{ chat *ChatClient }

func (cv *ConversationsClient) List(ctx context.Context, withUnread bool) (*Result, error) {
	var query map[string]string
	if withUnread {
		query = map[string]string{"withUnread": "true"}
	}
	return cv.chat.do(ctx, "GET", "/api/chat/conversations", nil, query)
}

func (cv *ConversationsClient) Get(ctx context.Context, conversationID string) (*Result, error) {
	return cv.chat.do(ctx, "GET", "/api/chat/conversations/"+conversationID, nil, nil)
}

func (cv *ConversationsClient) MarkAsRead(ctx context.Context, conversationID string) (*Result, error) {
	return cv.chat.do(ctx, "POST", "/api/chat/conversations/"+conversationID+"/read", nil, nil)
}

// MessagesClient exposes the message mutation and query endpoints the
// optimistic pipeline is built on. Send is the single mutation that persists
// a new message; it returns the server-assigned ID on success.
type MessagesClient struct{ chat *ChatClient }

func (m *MessagesClient) Send(ctx context.Context, opts *SendMessageOptions) (*Result, error) {
	return m.chat.do(ctx, "POST", "/api/chat/messages", opts, nil)
}

// History returns the message list for a conversation target.
func (m *MessagesClient) History(ctx context.Context, target Target, opts *PageOptions) (*Result, error) {
	q := paginationQuery(opts)
	if q == nil {
		q = map[string]string{}
	}
	if target.UserID != "" {
		q["userId"] = target.UserID
	}
	if target.GroupID != "" {
		q["groupId"] = target.GroupID
	}
	return m.chat.do(ctx, "GET", "/api/chat/messages", nil, q)
}

func (m *MessagesClient) Delete(ctx context.Context, messageID string) (*Result, error) {
	return m.chat.do(ctx, "DELETE", "/api/chat/messages/"+messageID, nil, nil)
}

// ContactsClient handles the contact list and contact requests.
type ContactsClient struct{ chat *ChatClient }

func (c *ContactsClient) List(ctx context.Context) (*Result, error) {
	return c.chat.do(ctx, "GET", "/api/chat/contacts", nil, nil)
}

func (c *ContactsClient) Request(ctx context.Context, username string) (*Result, error) {
	return c.chat.do(ctx, "POST", "/api/chat/contacts/requests", map[string]string{"username": username}, nil)
}

func (c *ContactsClient) Accept(ctx context.Context, requestID string) (*Result, error) {
	return c.chat.do(ctx, "POST", "/api/chat/contacts/requests/"+requestID+"/accept", nil, nil)
}

func (c *ContactsClient) Remove(ctx context.Context, userID string) (*Result, error) {
	return c.chat.do(ctx, "DELETE", "/api/chat/contacts/"+userID, nil, nil)
}

// ============================================================================
// FilesClient
// ============================================================================

// FilesClient handles file upload for file-kind messages
// (lifecycle: presign → upload → confirm).
type FilesClient struct{ chat *ChatClient }

// Presign gets a presigned upload URL.
func (f *FilesClient) Presign(ctx context.Context, opts *PresignOptions) (*Result, error) {
	return f.chat.do(ctx, "POST", "/api/chat/files/presign", opts, nil)
}

// Confirm confirms an uploaded file (triggers validation + CDN activation).
func (f *FilesClient) Confirm(ctx context.Context, uploadID string) (*Result, error) {
	return f.chat.do(ctx, "POST", "/api/chat/files/confirm", map[string]string{"uploadId": uploadID}, nil)
}

// Delete deletes a file.
func (f *FilesClient) Delete(ctx context.Context, uploadID string) (*Result, error) {
	return f.chat.do(ctx, "DELETE", "/api/chat/files/"+uploadID, nil, nil)
}

// UploadOptions configures Upload.
type UploadOptions struct {
	FileName string
	MimeType string
}

const maxUploadSize = 50 * 1024 * 1024

// Upload uploads a file from bytes (full lifecycle: presign → upload → confirm)
// and returns the confirmed file record, whose attributes go into
// SendMessageOptions.File for a file-kind message.
func (f *FilesClient) Upload(ctx context.Context, data []byte, opts *UploadOptions) (*ConfirmData, error) {
	if opts == nil || opts.FileName == "" {
		return nil, fmt.Errorf("fileName is required when uploading bytes")
	}
	fileName := opts.FileName
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = guessMimeType(fileName)
	}
	fileSize := int64(len(data))
	if fileSize > maxUploadSize {
		return nil, fmt.Errorf("file exceeds maximum size of 50 MB")
	}

	presignRes, err := f.Presign(ctx, &PresignOptions{FileName: fileName, FileSize: fileSize, MimeType: mimeType})
	if err != nil {
		return nil, err
	}
	if !presignRes.OK {
		msg := "presign failed"
		if presignRes.Error != nil {
			msg = presignRes.Error.Message
		}
		return nil, fmt.Errorf("%s", msg)
	}
	var presign PresignData
	if err := presignRes.Decode(&presign); err != nil {
		return nil, fmt.Errorf("failed to decode presign: %w", err)
	}

	// Build multipart form
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	external := strings.HasPrefix(presign.URL, "http")
	if external {
		for k, v := range presign.Fields {
			_ = w.WriteField(k, v)
		}
	}

	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.Close()

	uploadURL := presign.URL
	if !external {
		uploadURL = f.chat.client.baseURL + presign.URL
	}

	req, err := http.NewRequestWithContext(ctx, "POST", uploadURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if !external && f.chat.client.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.chat.client.token)
	}

	resp, err := f.chat.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(body))
	}

	confirmRes, err := f.Confirm(ctx, presign.UploadID)
	if err != nil {
		return nil, err
	}
	if !confirmRes.OK {
		msg := "confirm failed"
		if confirmRes.Error != nil {
			msg = confirmRes.Error.Message
		}
		return nil, fmt.Errorf("%s", msg)
	}
	var confirmed ConfirmData
	if err := confirmRes.Decode(&confirmed); err != nil {
		return nil, fmt.Errorf("failed to decode confirm: %w", err)
	}
	return &confirmed, nil
}

// UploadFile uploads a file from a local path.
// FileName and MimeType are auto-detected from the path if not set.
func (f *FilesClient) UploadFile(ctx context.Context, filePath string, opts *UploadOptions) (*ConfirmData, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if opts == nil {
		opts = &UploadOptions{}
	}
	if opts.FileName == "" {
		opts.FileName = filepath.Base(filePath)
	}
	return f.Upload(ctx, data, opts)
}

// guessMimeType returns MIME type from file extension.
func guessMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".md": "text/markdown", ".yaml": "text/yaml", ".yml": "text/yaml",
		".webp": "image/webp", ".webm": "video/webm",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		// Strip charset parameter (e.g. "text/plain; charset=utf-8" → "text/plain")
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}

// ============================================================================
// RealtimeFactory
// ============================================================================

// RealtimeFactory creates real-time connections to the live query feed.
type RealtimeFactory struct{ chat *ChatClient }

// WSUrl returns the WebSocket URL.
func (r *RealtimeFactory) WSUrl(token string) string {
	base := strings.Replace(r.chat.client.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	if token != "" {
		return base + "/ws?token=" + token
	}
	return base + "/ws"
}

// Connect creates a WebSocket real-time client. Call Connect() on it to
// establish the connection.
func (r *RealtimeFactory) Connect(config *RealtimeConfig) *RealtimeClient {
	cfg := *config
	cfg.defaults()
	return &RealtimeClient{
		baseURL:      r.chat.client.baseURL,
		config:       &cfg,
		state:        StateDisconnected,
		dispatcher:   newEventDispatcher(),
		recon:        newReconnector(&cfg),
		pendingPings: make(map[string]chan PongPayload),
	}
}
