package types

import (
	"slices"
	"time"
)

const (
	MessageTypeText = "text"
	MessageTypeFile = "file"
)

type User struct {
	Id           string    `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Channel struct {
	Id            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Topic         string     `json:"topic,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	IsPrivate     bool       `json:"is_private"`
	IsDirect      bool       `json:"is_direct"`
	Members       []string   `json:"members"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (c *Channel) HasMember(userId string) bool {
	return slices.Contains(c.Members, userId)
}

// DeliveryStatus tracks per-recipient delivery and read state for a
// message. DeliveredTo and ReadBy are sets: a recipient appears at most
// once and entries are never removed. ReadBy is not required to be a
// subset of DeliveredTo, a client may report a read without ever having
// reported a delivery.
type DeliveryStatus struct {
	Sent        bool       `json:"sent"`
	Delivered   bool       `json:"delivered"`
	Read        bool       `json:"read"`
	DeliveredTo []string   `json:"delivered_to"`
	ReadBy      []string   `json:"read_by"`
	SentAt      time.Time  `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

func NewDeliveryStatus(sentAt time.Time) DeliveryStatus {
	return DeliveryStatus{
		Sent:        true,
		DeliveredTo: []string{},
		ReadBy:      []string{},
		SentAt:      sentAt,
	}
}

type Message struct {
	Id             string         `json:"id"`
	ChannelId      string         `json:"channel_id"`
	SenderId       string         `json:"sender_id"`
	Content        string         `json:"content"`
	MessageType    string         `json:"message_type"`
	ParentId       string         `json:"parent_id,omitempty"`
	ReplyCount     int            `json:"reply_count"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

type Invitation struct {
	Id        string           `json:"id"`
	ChannelId string           `json:"channel_id"`
	InviterId string           `json:"inviter_id"`
	InviteeId string           `json:"invitee_id"`
	Status    InvitationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
