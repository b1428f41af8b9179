package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type NotificationType string

const (
	NotificationMatchOffered         NotificationType = "MATCH_OFFERED"
	NotificationMatchAcceptedByOther NotificationType = "MATCH_ACCEPTED_BY_OTHER"
	NotificationMatchRejectedByOther NotificationType = "MATCH_REJECTED_BY_OTHER"
	NotificationMatchCompleted       NotificationType = "MATCH_COMPLETED"
	NotificationMatchExpired         NotificationType = "MATCH_EXPIRED"
	NotificationNewMessage           NotificationType = "NEW_MESSAGE"
	NotificationUnreadCount          NotificationType = "UNREAD_COUNT"
	NotificationReadReceipt          NotificationType = "READ_RECEIPT"
	NotificationSystemNotice         NotificationType = "SYSTEM_NOTICE"
)

// Push channel topic tags. Routing is the transport's concern; the core
// only picks the tag.
const (
	TopicMatchNotifications  = "match-notifications"
	TopicChatNotifications   = "chat-notifications"
	TopicChatUpdates         = "chat-updates"
	TopicSystemNotifications = "system-notifications"
)

func TopicFor(t NotificationType) string {
	switch t {
	case NotificationMatchOffered, NotificationMatchAcceptedByOther,
		NotificationMatchRejectedByOther, NotificationMatchCompleted,
		NotificationMatchExpired:
		return TopicMatchNotifications
	case NotificationNewMessage:
		return TopicChatNotifications
	case NotificationUnreadCount, NotificationReadReceipt:
		return TopicChatUpdates
	default:
		return TopicSystemNotifications
	}
}

// DefaultPriority maps a type to its urgency. Higher is more urgent.
func DefaultPriority(t NotificationType) int {
	switch t {
	case NotificationMatchOffered, NotificationMatchAcceptedByOther,
		NotificationMatchRejectedByOther, NotificationMatchCompleted,
		NotificationMatchExpired:
		return 10
	case NotificationNewMessage:
		return 5
	case NotificationSystemNotice:
		return 3
	case NotificationUnreadCount:
		return 2
	case NotificationReadReceipt:
		return 1
	default:
		return 3
	}
}

// Replayable reports whether a queued notification of this type is still
// meaningful when delivered later. Read receipts and unread counters only
// make sense in real time and are never replayed by a drain.
func Replayable(t NotificationType) bool {
	switch t {
	case NotificationReadReceipt, NotificationUnreadCount:
		return false
	}
	return true
}

// NotificationPayload is the closed set of typed payload variants. JSON
// encoding happens only at the storage and transport boundaries.
type NotificationPayload interface {
	NotificationType() NotificationType
}

type MatchOfferedPayload struct {
	MatchID    string         `json:"match_id"`
	Initiator  ProfileSummary `json:"initiator"`
	DistanceKm float64        `json:"distance_km"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

func (MatchOfferedPayload) NotificationType() NotificationType { return NotificationMatchOffered }

type MatchAcceptedByOtherPayload struct {
	MatchID string `json:"match_id"`
	ByUser  string `json:"by_user"`
}

func (MatchAcceptedByOtherPayload) NotificationType() NotificationType {
	return NotificationMatchAcceptedByOther
}

type MatchRejectedByOtherPayload struct {
	MatchID string `json:"match_id"`
	ByUser  string `json:"by_user"`
}

func (MatchRejectedByOtherPayload) NotificationType() NotificationType {
	return NotificationMatchRejectedByOther
}

type MatchCompletedPayload struct {
	MatchID        string `json:"match_id"`
	ConversationID string `json:"conversation_id"`
	PartnerID      string `json:"partner_id"`
}

func (MatchCompletedPayload) NotificationType() NotificationType { return NotificationMatchCompleted }

type MatchExpiredPayload struct {
	MatchID string `json:"match_id"`
}

func (MatchExpiredPayload) NotificationType() NotificationType { return NotificationMatchExpired }

type NewMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	SenderID       string `json:"sender_id"`
	Preview        string `json:"preview,omitempty"`
}

func (NewMessagePayload) NotificationType() NotificationType { return NotificationNewMessage }

type UnreadCountPayload struct {
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
}

func (UnreadCountPayload) NotificationType() NotificationType { return NotificationUnreadCount }

type ReadReceiptPayload struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	MessageID      string `json:"message_id"`
}

func (ReadReceiptPayload) NotificationType() NotificationType { return NotificationReadReceipt }

type SystemNoticePayload struct {
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
	Count   int    `json:"count,omitempty"`
}

func (SystemNoticePayload) NotificationType() NotificationType { return NotificationSystemNotice }

// EncodePayload serializes a payload variant for storage or the wire.
func EncodePayload(p NotificationPayload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload reverses EncodePayload for a known type.
func DecodePayload(t NotificationType, data []byte) (NotificationPayload, error) {
	var (
		p   NotificationPayload
		err error
	)
	switch t {
	case NotificationMatchOffered:
		var v MatchOfferedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case NotificationMatchAcceptedByOther:
		var v MatchAcceptedByOtherPayload
		err = json.Unmarshal(data, &v)
		p = v
	case NotificationMatchRejectedByOther:
		var v MatchRejectedByOtherPayload
		err = json.Unmarshal(data, &v)
		p = v
	case NotificationMatchCompleted:
		var v MatchCompletedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case NotificationMatchExpired:
		var v MatchExpiredPayload
		err = json.Unmarshal(data, &v)
		p = v
	case NotificationNewMessage:
		var v NewMessagePayload
		err = json.Unmarshal(data, &v)
		p = v
	case NotificationUnreadCount:
		var v UnreadCountPayload
		err = json.Unmarshal(data, &v)
		p = v
	case NotificationReadReceipt:
		var v ReadReceiptPayload
		err = json.Unmarshal(data, &v)
		p = v
	case NotificationSystemNotice:
		var v SystemNoticePayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown notification type %q", t)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// OfflineNotification is one durable outbox row.
type OfflineNotification struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Type       NotificationType `json:"type"`
	Payload    []byte           `json:"payload"`
	Message    string           `json:"message"`
	ActionRef  *string          `json:"action_ref,omitempty"`
	Priority   int              `json:"priority"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	IsSent     bool             `json:"is_sent"`
	RetryCount int              `json:"retry_count"`
}
