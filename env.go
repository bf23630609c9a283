package ingester

import (
	"os"
	"strconv"
	"time"
)

// LoadConfigFromEnv starts from DefaultConfig and overrides each field
// whose environment variable is set. Flat keys use single underscores
// (INGEST_WORKER_CONCURRENCY, INGEST_WORKER_POLL_INTERVAL_MS, ...); the
// nested storage key uses a double underscore (INGEST_STORAGE__ROOT).
// Malformed values are ignored,
// leaving the default in place.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v, ok := lookupInt("INGEST_WORKER_CONCURRENCY"); ok {
		cfg.Concurrency = v
	}
	if v, ok := lookupInt("INGEST_WORKER_CLAIM_BATCH"); ok {
		cfg.ClaimBatch = v
	}
	if v, ok := lookupDuration("INGEST_WORKER_POLL_INTERVAL_MS"); ok {
		cfg.PollInterval = v
	}
	if v, ok := lookupDuration("INGEST_WORKER_SHUTDOWN_TIMEOUT_MS"); ok {
		cfg.ShutdownTimeout = v
	}
	if v, ok := lookupDuration("INGEST_WORKER_CHECKIN_INTERVAL_MS"); ok {
		cfg.HeartbeatInterval = v
	}
	if v, ok := lookupDuration("INGEST_WORKER_CHECKIN_TIMEOUT_MS"); ok {
		cfg.StaleStepTimeout = v
	}
	if v, ok := os.LookupEnv("INGEST_STORAGE__ROOT"); ok {
		cfg.StorageRoot = v
	}

	return cfg
}

func lookupInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupDuration(key string) (time.Duration, bool) {
	ms, ok := lookupInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
