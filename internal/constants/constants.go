// Package constants provides centralized constant definitions for the meetupchat service.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// Timeouts for various operations
const (
	DefaultContextTimeout = 10 * time.Second // Standard database operations
	MessageAppendTimeout  = 5 * time.Second  // Persisting a chat message
	HistoryQueryTimeout   = 5 * time.Second  // Cursor page queries
	MongoIndexTimeout     = 30 * time.Second // MongoDB index creation
	HealthCheckTimeout    = 2 * time.Second  // Health check operations
	ShutdownTimeout       = 15 * time.Second // Graceful shutdown budget in standalone mode
)

// Sizes and Limits
const (
	DefaultMaxMessageSize          = 65536 // 64KB per WebSocket frame
	DefaultMaxContentLength        = 1000  // Runes per chat message
	DefaultPageSize                = 20    // History page size when none is given
	MinPageSize                    = 2     // An inclusive cursor cannot advance with single-item pages
	MaxPageSize                    = 100   // History page size cap
	DefaultBroadcastBuffer         = 1024  // Pending fan-out events
	DefaultSendBuffer              = 256   // Outbound frames buffered per connection
	DefaultSendRateLimit           = 30    // SEND frames per window per member
	DefaultMaxConnectionsPerMember = 10    // Simultaneous connections per member
	MaxRetryAttempts               = 3     // Maximum retry attempts for transient errors
	PublicEndpointRate             = 60    // Requests per minute for public endpoints
)

// HTTP Server Timeouts (for standalone server mode)
const (
	HTTPReadTimeout  = 15 * time.Second
	HTTPWriteTimeout = 0 // Streaming fallback responses must not be cut off
	HTTPIdleTimeout  = 120 * time.Second
)

// Durations for background operations
const (
	DefaultSendRateWindow  = 1 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
	FallbackAttachTimeout  = 30 * time.Second // Fallback sessions must open their stream within this
	InitialRetryDelay      = 100 * time.Millisecond
	MaxRetryDelay          = 2 * time.Second
	RetryMultiplier        = 2.0
)

// Default Configuration Values
const (
	DefaultDatabase   = "meetup"
	DefaultStore      = StoreMongo
	DefaultBadgerDir  = "data/chat"
	DefaultPort       = 8080
	DefaultLogLevel   = "info"
	DefaultLogDir     = "logs"
	DefaultPathPrefix = "/meetupchat"
)

// Store drivers
const (
	StoreMongo  = "mongo"
	StoreBadger = "badger"
)

// HTTP Headers
const (
	HeaderAuthorization = "Authorization"
	HeaderRetryAfter    = "Retry-After"
	BearerPrefix        = "Bearer "
)

// Destinations of the framed sub-protocol
const (
	PublishPrefix   = "/pub/chat/"
	SubscribePrefix = "/sub/chat/"
)

// MongoDB collection names
const (
	CollectionRooms       = "chat_rooms"
	CollectionMemberships = "chat_room_members"
	CollectionMessages    = "chat_messages"
	CollectionCounters    = "chat_counters"
	CollectionMembers     = "members"
	CollectionAvatars     = "member_images"
)

// MongoDB Field Names (BSON tags)
const (
	MongoFieldID        = "_id"
	MongoFieldGroupID   = "groupId"
	MongoFieldRoomID    = "roomId"
	MongoFieldMemberID  = "memberId"
	MongoFieldDeletedAt = "deletedAt"
	MongoFieldSeq       = "seq"
)

// Counter names
const (
	CounterRoom    = "chat_room"
	CounterMessage = "chat_message"
)

// MongoDB Index Names
const (
	IndexRoomGroup      = "idx_room_group_unique"
	IndexMembership     = "idx_membership_unique"
	IndexMessageRoomID  = "idx_message_room_id"
	IndexAvatarMemberID = "idx_avatar_member_id"
)

// Weak Secrets for validation (security check)
var WeakSecrets = []string{
	"secret", "test123", "password", "changeme", "default", "example", "12345", "placeholder",
}

// Minimum Security Requirements
const (
	MinJWTSecretLength = 32 // Minimum length for JWT secret (256 bits)
)

// Retry After Calculation
const (
	MillisecondsPerSecond = 1000
	MinRetryAfterSeconds  = 1
)

// Network configuration defaults
const (
	DefaultTrustedProxies = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"
)
