package constants

// Default synthetic sender used for QR code and status notifications
const (
	DefaultMobileName   = "WPPConnect"
	DefaultMobileNumber = "5511999999999"
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec         = 30
	DefaultQRCodeDelayMs          = 1000
	DefaultProbeTimeoutSec        = 15
	DefaultServerPort             = 8085
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 15
	DefaultServerIdleTimeoutSec   = 60
	DefaultGracefulShutdownSec    = 30
	DefaultHandlerDrainSec        = 10
	DefaultFeedReconnectSec       = 5
	DefaultDatabaseRetryAttempts  = 3
	DefaultDatabaseRetryBackoffMs = 500
	ServerErrorChannelSize        = 1
)

// Chat identifier markers
const (
	BroadcastMarker = "@broadcast"
	UserChatSuffix  = "@c.us"
	GroupChatSuffix = "@g.us"
)

// Chatwoot request fields
const (
	MessageTypeIncoming        = "incoming"
	ConversationStatusOpen     = "open"
	ConversationStatusResolved = "resolved"
	AttachmentsField           = "attachments[]"
	APIAccessTokenHeader       = "api_access_token"
)

// Synthetic notification content
const (
	QRCodeTimestamp  = "qrcode"
	QRCodeMimeType   = "image/png"
	QRCodeCaption    = "Scan this QR code to connect the session"
	QRCodeDataPrefix = "data:image/png;base64,"
	StatusBodyFormat = "Session status: %s"
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
)

// Encryption settings for the delivery log
const (
	EncryptionSalt       = "chatwootbridge-delivery-log-v1"
	EncryptionLookupSalt = "chatwootbridge-lookup-v1"
)

// Delivery log retention
const (
	DefaultRetentionDays          = 30
	CleanupSchedulerIntervalHours = 24
)
