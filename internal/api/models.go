package api

import (
	"time"

	"github.com/DangeRika/Web-chat/internal/chat"
	"github.com/DangeRika/Web-chat/internal/identity"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type updateProfileRequest struct {
	Username *string `json:"username,omitempty"`
	Bio      *string `json:"bio,omitempty"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type userResponse struct {
	PublicID  string    `json:"public_id"`
	Username  string    `json:"username"`
	Bio       *string   `json:"bio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionResponse struct {
	User             userResponse `json:"user"`
	AccessToken      string       `json:"access_token"`
	AccessExpiresAt  time.Time    `json:"access_expires_at"`
	RefreshToken     string       `json:"refresh_token"`
	RefreshExpiresAt time.Time    `json:"refresh_expires_at"`
}

type accessTokenResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

type chatResponse struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type messageResponse struct {
	MessageID      string    `json:"message_id"`
	ChatID         int64     `json:"chat_id"`
	SenderID       int64     `json:"sender_id"`
	SenderPublicID string    `json:"sender_public_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type historyResponse struct {
	ChatID   int64             `json:"chat_id"`
	Messages []messageResponse `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		PublicID:  u.PublicID,
		Username:  u.Username,
		Bio:       u.Bio,
		CreatedAt: u.CreatedAt,
	}
}

func toMessageResponse(m chat.Message, senderPublic string) messageResponse {
	return messageResponse{
		MessageID:      m.Token,
		ChatID:         m.ChatID,
		SenderID:       m.SenderID,
		SenderPublicID: senderPublic,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}
