package domain

import "time"

// Compiled defaults for the connection and dispatch layer. All of them can be
// overridden through configuration; the relative ordering
// SettleDelay < ReconnectCooldown and QRThrottleWindow < QRCooldown must hold.
const (
	// QR challenge throttle
	QRThrottleWindow    = 30 * time.Second
	QRMaxRegenerations  = 5
	QRCooldown          = 2 * time.Minute
	QRArtifactFreshness = 5 * time.Minute

	// Reconnection supervisor
	SettleDelay        = 15 * time.Second
	ReconnectCooldown  = 3 * time.Minute
	TeardownTimeout    = 10 * time.Second
	StatusTimeout      = 10 * time.Second
	ConnectTimeout     = 60 * time.Second
	FaultDebounce      = 5 * time.Second
	HealthProbeEvery   = 2 * time.Minute
	InactivityTrigger  = 15 * time.Minute
	MinHealthProbeTick = 1 * time.Minute
	MaxHealthProbeTick = 5 * time.Minute

	// Dispatcher
	InFlightTTL         = 30 * time.Second
	VerifiedCacheTTL    = 10 * time.Minute
	VerifiedCacheSize   = 4096
	UnverifiedHintTTL   = 24 * time.Hour
	MaxMediaBytes       = 15 * 1024 * 1024
	DefaultRecentCount  = 5
	MaxRecentCount      = 50
	ShortenConcurrency  = 4
	HandlerTimeout      = 2 * time.Minute
	OutboundRatePerSec  = 2
	OutboundBurst       = 5
	ShortenerTimeout    = 5 * time.Second
	ClassifierTimeout   = 45 * time.Second
	AlertMinimumSpacing = QRCooldown

	// Infrastructure timeouts
	DynamoDBTimeout = 5 * time.Second
	RedisTimeout    = 2 * time.Second

	// Graceful shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Shutdown sequencing.
const (
	ShutdownDrainDelay  = 2 * time.Second
	ShutdownHTTPTimeout = 10 * time.Second
	ShutdownOTELTimeout = 5 * time.Second
)
