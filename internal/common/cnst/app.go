package cnst

const (
	// AppName is the service name used in logs, metrics and traces
	AppName = "oauthd"
	// CommandName is the name of the cobra root command
	CommandName = "oauthd"
)

// Storage backends selectable via storage.type
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageDB     = "db"
)

// Redis deployment topologies
const (
	RedisClusterTypeSingle   = "single"
	RedisClusterTypeSentinel = "sentinel"
	RedisClusterTypeCluster  = "cluster"
)

// Cleanup scheduling modes
const (
	CleanupModeTimer   = "timer"
	CleanupModeSampled = "sampled"
	CleanupModeOff     = "off"
)
