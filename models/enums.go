package models

const (
	SyncProviderAppFolio = "appfolio"
)

const (
	ConnectionStatusConnected    = "connected"
	ConnectionStatusDisconnected = "disconnected"
	ConnectionStatusError        = "error"
)

const (
	SyncModeFull        = "full"
	SyncModeIncremental = "incremental"
)

const (
	SyncRunStatusPending   = "pending"
	SyncRunStatusRunning   = "running"
	SyncRunStatusCompleted = "completed"
	SyncRunStatusFailed    = "failed"
)

const (
	SyncTriggeredManual   = "manual"
	SyncTriggeredSchedule = "schedule"
	SyncTriggeredRetry    = "retry"
)

// Error codes recorded on a failed run. Timeout and lock contention are kept
// distinct from API failures so alerts and logs can tell them apart.
const (
	SyncErrorCodeAPI     = "api_error"
	SyncErrorCodeTimeout = "timeout"
	SyncErrorCodeConfig  = "config_error"
)

// Resource identifiers for the synced entity types.
const (
	ResourceProperties = "properties"
	ResourceUnits      = "units"
	ResourceVendors    = "vendors"
	ResourceWorkOrders = "work_orders"
	ResourceExpenses   = "expenses"
)

// SyncResourceOrder is the fixed processing order within a run. Later
// resources reference earlier ones (units and work orders reference
// properties, expenses reference properties and vendors), so reordering is
// not permitted.
var SyncResourceOrder = []string{
	ResourceProperties,
	ResourceUnits,
	ResourceVendors,
	ResourceWorkOrders,
	ResourceExpenses,
}
