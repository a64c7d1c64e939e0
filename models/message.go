package models

import "gomint/storage"

// DirectMessage is the wire form of a persisted one-to-one message. The body
// stays encrypted; clients receive the envelope and key.
type DirectMessage struct {
	ID            string `json:"id"`
	Sender        string `json:"sender"`
	Receiver      string `json:"receiver"`
	Ciphertext    string `json:"ciphertext"`
	Salt          string `json:"salt"`
	IV            string `json:"iv"`
	Tag           string `json:"tag"`
	EncryptionKey string `json:"encryption_key"`
	IsRead        bool   `json:"is_read"`
	CreatedAt     int64  `json:"created_at"`
}

// CommunityMessage is the wire form of a persisted community message.
type CommunityMessage struct {
	ID            string `json:"id"`
	CommunityID   string `json:"community_id"`
	Sender        string `json:"sender"`
	Ciphertext    string `json:"ciphertext"`
	Salt          string `json:"salt"`
	IV            string `json:"iv"`
	Tag           string `json:"tag"`
	EncryptionKey string `json:"encryption_key"`
	CreatedAt     int64  `json:"created_at"`
}

// MessageRead tells a sender that the receiver read one of their messages.
type MessageRead struct {
	MessageID string `json:"messageId"`
	ReadBy    string `json:"readBy"`
}

// Typing is the presence signal relayed to a room.
type Typing struct {
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

func FromDirectMessage(m storage.DirectMessage) DirectMessage {
	return DirectMessage{
		ID:            m.ID,
		Sender:        m.Sender,
		Receiver:      m.Receiver,
		Ciphertext:    m.Envelope.Ciphertext,
		Salt:          m.Envelope.Salt,
		IV:            m.Envelope.IV,
		Tag:           m.Envelope.Tag,
		EncryptionKey: m.Envelope.EncryptionKey,
		IsRead:        m.IsRead,
		CreatedAt:     m.CreatedAt,
	}
}

func FromDirectMessages(in []storage.DirectMessage) []DirectMessage {
	out := make([]DirectMessage, 0, len(in))
	for _, m := range in {
		out = append(out, FromDirectMessage(m))
	}
	return out
}

func FromCommunityMessage(m storage.CommunityMessage) CommunityMessage {
	return CommunityMessage{
		ID:            m.ID,
		CommunityID:   m.CommunityID,
		Sender:        m.Sender,
		Ciphertext:    m.Envelope.Ciphertext,
		Salt:          m.Envelope.Salt,
		IV:            m.Envelope.IV,
		Tag:           m.Envelope.Tag,
		EncryptionKey: m.Envelope.EncryptionKey,
		CreatedAt:     m.CreatedAt,
	}
}

func FromCommunityMessages(in []storage.CommunityMessage) []CommunityMessage {
	out := make([]CommunityMessage, 0, len(in))
	for _, m := range in {
		out = append(out, FromCommunityMessage(m))
	}
	return out
}
