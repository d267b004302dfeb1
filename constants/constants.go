package constants

import "time"

// ============================================================================
// CONFIGURATION
// ============================================================================

// Configuration Files
const (
	ConfigFileName   = "flowhook.config.json"
	DefaultFlowsDir  = "flows"
	DefaultSQLiteDSN = ".flowhook/flowhook.db"
	DefaultBlobDir   = ".flowhook/archive"
	EnvPrefix        = "FLOWHOOK"
)

// Storage Drivers
const (
	StorageDriverMemory   = "memory"
	StorageDriverSQLite   = "sqlite"
	StorageDriverPostgres = "postgres"
)

// Credential Store Drivers
const (
	CredentialsDriverMemory = "memory"
	CredentialsDriverRedis  = "redis"
)

// Event Bus Drivers
const (
	EventDriverMemory = "memory"
	EventDriverNATS   = "nats"
)

// Blob Drivers
const (
	BlobDriverFilesystem = "filesystem"
	BlobDriverS3         = "s3"
)

// Secrets Drivers
const (
	SecretsDriverEnv = "env"
	SecretsDriverAWS = "aws"
)

// Environment Variables
const (
	EnvDebug = "FLOWHOOK_DEBUG"
)

// ============================================================================
// RUNTIME DEFAULTS
// ============================================================================

const (
	DefaultStepTimeout     = 60 * time.Second
	DefaultMaxAttempts     = 3
	DefaultInitialBackoff  = 500 * time.Millisecond
	DefaultMaxBackoff      = 30 * time.Second
	DefaultPollInterval    = 15 * time.Minute
	DefaultDeliveryWorkers = 32
	DefaultCredentialTTL   = 10 * time.Minute
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultHTTPPort        = 3000
)

// ============================================================================
// EVENT TOPICS
// ============================================================================

const (
	TopicWebhookDelivered   = "webhook.delivered"
	TopicExecutionStarted   = "execution.started"
	TopicExecutionCompleted = "execution.completed"
)

// ============================================================================
// HTTP
// ============================================================================

// Routes
const (
	RouteFlowWebhook = "/webhooks/flows/{flowID}"
	RouteMetrics     = "/metrics"
	RouteHealth      = "/healthz"
	WebhookPathFmt   = "/webhooks/flows/%s"
)

// Content Types
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
	ContentTypeForm = "application/x-www-form-urlencoded"
)

// HTTP Headers
const (
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-Id"
)

// ============================================================================
// CREDENTIAL FIELDS
// ============================================================================

// Normalized credential fields written by the auth strategies.
const (
	FieldAccessToken  = "accessToken"
	FieldTokenType    = "tokenType"
	FieldRefreshToken = "refreshToken"
	FieldExpiresAt    = "expiresAt"
	FieldScope        = "scope"
	FieldIDToken      = "idToken"
	FieldResourceID   = "resourceId"
	FieldScreenName   = "screenName"
	FieldClientID     = "clientId"
	FieldClientSecret = "clientSecret"
	FieldCode         = "code"
	FieldRedirectURL  = "oAuthRedirectUrl"
	FieldAPIKey       = "apiKey"
	SecretRefPrefix   = "$secret:"
)

// ============================================================================
// OUTPUT FORMATTING
// ============================================================================

const (
	JSONIndent = "  "
)
