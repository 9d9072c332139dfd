package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the conversation and message lifecycle engine
var (
	// Conversation lifecycle metrics
	ConversationCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_conversation_created_total",
		Help: "Total number of conversations created",
	}, []string{"type"})

	ConversationDirectReusedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_conversation_direct_reused_total",
		Help: "Total number of direct conversation lookups that returned an existing record",
	})

	ParticipantAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_participant_added_total",
		Help: "Total number of participants added to group conversations",
	})

	ParticipantRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_participant_removed_total",
		Help: "Total number of participants removed from group conversations",
	})

	AdminPromotedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_admin_promoted_total",
		Help: "Total number of automatic admin promotions after the last admin left",
	})

	KeyRotationTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_key_rotation_total",
		Help: "Total number of conversation key rotations",
	})

	// Message lifecycle metrics
	MessageSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_sent_total",
		Help: "Total number of messages sent",
	}, []string{"security_level"})

	MessageSendFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_send_failed_total",
		Help: "Total number of failed message sends",
	}, []string{"step"}) // "persist", "pointer_update"

	MessageSendUnauthorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_message_send_unauthorized_total",
		Help: "Total number of messages rejected because the sender is not a participant",
	})

	MessageDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_message_deleted_total",
		Help: "Total number of messages deleted",
	})

	ReadReceiptRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_read_receipt_recorded_total",
		Help: "Total number of read receipts recorded",
	})

	MessagePublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_published_total",
		Help: "Total number of message events published to Redis",
	}, []string{"status"})

	// WebSocket lifecycle metrics
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_websocket_connections",
		Help: "Current number of active WebSocket connections",
	})

	WebSocketConnectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_websocket_connection_total",
		Help: "Total number of WebSocket connections",
	}, []string{"status"})

	ClientMessageDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_client_message_dropped_total",
		Help: "Total number of messages dropped to slow clients",
	}, []string{"reason"})
)
