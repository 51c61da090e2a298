package config

import (
	"os"
	"strings"
)

// SyncFeatures are the behavior toggles for the ingestion pipeline. The
// struct is built once from env at startup and handed to the orchestrator,
// rather than read from os.Getenv at call time.
type SyncFeatures struct {
	// IncrementalSync enables watermark-based fetch windows. When off,
	// every scheduled run behaves as a full sync.
	IncrementalSync bool

	// Notifications enables failure alert emails.
	Notifications bool

	// AnalyticsRefresh publishes a refresh event after each completed run
	// so the analytics consumer can recompute KPIs.
	AnalyticsRefresh bool

	// AutoGeocoding enqueues the geocoding job for properties upserted
	// without coordinates.
	AutoGeocoding bool
}

// LoadSyncFeatures reads the feature toggles from env:
// - SYNC_INCREMENTAL (default true)
// - SYNC_NOTIFICATIONS (default true)
// - SYNC_ANALYTICS_REFRESH (default false)
// - SYNC_AUTO_GEOCODING (default false)
func LoadSyncFeatures() SyncFeatures {
	return SyncFeatures{
		IncrementalSync:  EnvBoolDefault("SYNC_INCREMENTAL", true),
		Notifications:    EnvBoolDefault("SYNC_NOTIFICATIONS", true),
		AnalyticsRefresh: EnvBoolDefault("SYNC_ANALYTICS_REFRESH", false),
		AutoGeocoding:    EnvBoolDefault("SYNC_AUTO_GEOCODING", false),
	}
}

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
