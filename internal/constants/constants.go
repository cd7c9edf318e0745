package constants

import "time"

const (
	DefaultPollTimeout = 25 * time.Second
	MaxPollTimeout     = 30 * time.Second
	PollCheckInterval  = 250 * time.Millisecond
)

const (
	DefaultBatchSize = 50
	MaxBatchSize     = 200
)

const (
	DefaultRetentionWindow = 24 * time.Hour
	SweepBatchSize         = 1000
	InlineSweepProbability = 0.01
)

const (
	DefaultConnectionCap    = 3
	DefaultRequestsPerMin   = 200
	ConnectionCounterTTL    = 2 * time.Minute
	RateWindowLength        = 60 * time.Second
	CacheKeyPrefixConn      = "chatpoll:conn:"
	CacheKeyPrefixRate      = "chatpoll:rate:"
	CacheKeyPrefixFastPath  = "chatpoll:fp:"
	FastPathTTL             = 3 * time.Second
	RolloutRefreshInterval  = 5 * time.Second
	HealthCheckInterval     = 30 * time.Second
	SweepInterval           = 10 * time.Minute
	CompactInterval         = 6 * time.Hour
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 1000
)
