package drift

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic Drift API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Message Types
// ============================================================================

// MessageKind tags the content of a message.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindEmoji  MessageKind = "emoji"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// FileAttrs describes the file behind a file-kind message.
type FileAttrs struct {
	FileID   string `json:"fileId"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Message is a server-confirmed message record. It is owned by the hosted
// backend: the SDK reads it from queries and live pushes but never mutates it.
// Exactly one of ReceiverID and GroupID is set.
type Message struct {
	ID           string      `json:"_id"`
	CreationTime int64       `json:"_creationTime"` // server clock, ms since epoch
	SenderID     string      `json:"senderId"`
	ReceiverID   string      `json:"receiverId,omitempty"`
	GroupID      string      `json:"groupId,omitempty"`
	Content      string      `json:"content"`
	Kind         MessageKind `json:"kind"`
	File         *FileAttrs  `json:"file,omitempty"`
	Read         bool        `json:"read"`
}

// CreatedAt returns the server-assigned creation time.
func (m *Message) CreatedAt() time.Time {
	return time.UnixMilli(m.CreationTime)
}

// ============================================================================
// Account / Identity Types
// ============================================================================

type RegisterOptions struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

type RegisterData struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token"`
	ExpiresIn   string `json:"expiresIn"`
	IsNew       bool   `json:"isNew"`
}

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Status      string `json:"status,omitempty"` // online, away, busy, offline
}

type AccountStats struct {
	ConversationCount int `json:"conversationCount"`
	ContactCount      int `json:"contactCount"`
	MessagesSent      int `json:"messagesSent"`
	UnreadCount       int `json:"unreadCount"`
}

type MeData struct {
	User  User         `json:"user"`
	Stats AccountStats `json:"stats"`
}

// ============================================================================
// Contacts / Groups / Conversations
// ============================================================================

type Contact struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	DisplayName    string `json:"displayName"`
	Status         string `json:"status,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	UnreadCount    int    `json:"unreadCount,omitempty"`
}

type ContactRequestData struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"` // pending, accepted
}

type GroupMember struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role"` // owner or member
}

type Group struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Members   []GroupMember `json:"members,omitempty"`
	CreatedAt string        `json:"createdAt,omitempty"`
}

type CreateGroupOptions struct {
	Title   string   `json:"title"`
	Members []string `json:"members,omitempty"`
}

type Conversation struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId,omitempty"` // direct peer
	GroupID     string   `json:"groupId,omitempty"`
	Title       string   `json:"title,omitempty"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// ============================================================================
// Send / Pagination Options
// ============================================================================

// SendMessageOptions is the body of the message mutation. Exactly one of
// ReceiverID and GroupID must be set; Kind defaults to text server-side.
type SendMessageOptions struct {
	ReceiverID string      `json:"receiverId,omitempty"`
	GroupID    string      `json:"groupId,omitempty"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"kind,omitempty"`
	File       *FileAttrs  `json:"file,omitempty"`
}

// SendMessageData is returned by the message mutation on success.
type SendMessageData struct {
	MessageID string  `json:"messageId"`
	Message   Message `json:"message"`
}

type PageOptions struct {
	Limit  int
	Offset int
}

// ============================================================================
// File Upload Types
// ============================================================================

type PresignOptions struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

type PresignData struct {
	UploadID string            `json:"uploadId"`
	URL      string            `json:"url"`
	Fields   map[string]string `json:"fields,omitempty"`
}

type ConfirmData struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
	CdnURL   string `json:"cdnUrl"`
}
