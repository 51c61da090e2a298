package appfoliosync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rilaconsulting/pmpulse-sub006/models"
)

// SyncResources toggles which entity types a run processes.
type SyncResources struct {
	Properties bool `json:"properties"`
	Units      bool `json:"units"`
	Vendors    bool `json:"vendors"`
	WorkOrders bool `json:"workOrders"`
	Expenses   bool `json:"expenses"`
}

func DefaultResources() SyncResources {
	return SyncResources{
		Properties: true,
		Units:      true,
		Vendors:    true,
		WorkOrders: true,
		Expenses:   true,
	}
}

// NormalizeResources keeps the referenced-by-later-resources types enabled:
// units, work orders and expenses all resolve against properties.
func NormalizeResources(res SyncResources) SyncResources {
	if res.Units || res.WorkOrders || res.Expenses {
		res.Properties = true
	}
	if res.Expenses {
		res.Vendors = true
	}
	return res
}

func (r SyncResources) Enabled(resource string) bool {
	switch resource {
	case models.ResourceProperties:
		return r.Properties
	case models.ResourceUnits:
		return r.Units
	case models.ResourceVendors:
		return r.Vendors
	case models.ResourceWorkOrders:
		return r.WorkOrders
	case models.ResourceExpenses:
		return r.Expenses
	default:
		return false
	}
}

// BusinessHours drives the scheduler's cadence selection.
type BusinessHours struct {
	StartHour    int    `json:"startHour"`
	EndHour      int    `json:"endHour"`
	Timezone     string `json:"timezone"`
	WeekdaysOnly bool   `json:"weekdaysOnly"`
	FullSyncAt   string `json:"fullSyncAt"`
}

func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		StartHour:    9,
		EndHour:      17,
		Timezone:     "America/New_York",
		WeekdaysOnly: true,
		FullSyncAt:   "02:30",
	}
}

// ConnectionSettings is the JSON blob stored on the connection row.
type ConnectionSettings struct {
	Resources SyncResources `json:"resources"`
	Hours     BusinessHours `json:"hours"`
}

func DefaultSettings() ConnectionSettings {
	return ConnectionSettings{
		Resources: DefaultResources(),
		Hours:     DefaultBusinessHours(),
	}
}

func DecodeSettings(raw []byte) ConnectionSettings {
	if len(raw) == 0 {
		return DefaultSettings()
	}
	var settings ConnectionSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return DefaultSettings()
	}
	settings.Resources = NormalizeResources(settings.Resources)
	if settings.Hours.Timezone == "" {
		settings.Hours = DefaultBusinessHours()
	}
	return settings
}

func EncodeSettings(settings ConnectionSettings) []byte {
	settings.Resources = NormalizeResources(settings.Resources)
	b, _ := json.Marshal(settings)
	return b
}

// DateRange is an explicit fetch window override. A zero From means
// unbounded history.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Date-range presets accepted by the manual trigger surface.
const (
	PresetSixMonths = "6_months"
	PresetOneYear   = "1_year"
	PresetTwoYears  = "2_years"
	PresetAllTime   = "all_time"
	PresetCustom    = "custom"
)

var ErrUnknownPreset = errors.New("unknown date range preset")

// RangeFromPreset resolves a preset name to a concrete range. The custom
// preset requires explicit bounds and is handled by the caller.
func RangeFromPreset(preset string, now time.Time) (*DateRange, error) {
	switch preset {
	case PresetSixMonths:
		return &DateRange{From: now.AddDate(0, -6, 0), To: now}, nil
	case PresetOneYear:
		return &DateRange{From: now.AddDate(-1, 0, 0), To: now}, nil
	case PresetTwoYears:
		return &DateRange{From: now.AddDate(-2, 0, 0), To: now}, nil
	case PresetAllTime:
		return &DateRange{To: now}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, preset)
	}
}

type ConnectRequest struct {
	BaseURL      string `json:"baseUrl" binding:"required,url"`
	ClientID     string `json:"clientId" binding:"required"`
	ClientSecret string `json:"clientSecret" binding:"required"`
}

type UpdateSettingsRequest struct {
	Resources SyncResources  `json:"resources"`
	Hours     *BusinessHours `json:"hours"`
}

type TriggerSyncRequest struct {
	Mode   string `json:"mode" binding:"omitempty,oneof=full incremental"`
	Preset string `json:"preset"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AckAlertRequest struct {
	Note string `json:"note"`
}

// GlMappingEntry is one GL account to utility type assignment. Mappings are
// operator maintained; expense categorization stays blank for unmapped codes.
type GlMappingEntry struct {
	GlAccountCode string `json:"glAccountCode" binding:"required"`
	UtilityType   string `json:"utilityType" binding:"required"`
}

type GlMappingRequest struct {
	Mappings []GlMappingEntry `json:"mappings" binding:"required,min=1,dive"`
}

type StatusResponse struct {
	Connection    ConnectionResponse `json:"connection"`
	LastSyncAt    *string            `json:"lastSyncAt"`
	LastSuccessAt *string            `json:"lastSuccessAt"`
	Settings      ConnectionSettings `json:"settings"`
	Alert         *AlertResponse     `json:"alert"`
	LatestRun     *SyncRunResponse   `json:"latestRun"`
}

type ConnectionResponse struct {
	Status  string `json:"status"`
	BaseURL string `json:"baseUrl"`
}

type AlertResponse struct {
	ConsecutiveFailures int     `json:"consecutiveFailures"`
	Acknowledged        bool    `json:"acknowledged"`
	LastAlertedAt       *string `json:"lastAlertedAt"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID           uint    `json:"id"`
	Mode         string  `json:"mode"`
	Status       string  `json:"status"`
	TriggeredBy  string  `json:"triggeredBy"`
	StartedAt    *string `json:"startedAt"`
	CompletedAt  *string `json:"completedAt"`
	DurationMs   int64   `json:"durationMs"`
	ErrorCode    string  `json:"errorCode,omitempty"`
	ErrorSummary string  `json:"errorSummary,omitempty"`
	Note         string  `json:"note,omitempty"`
	Stale        bool    `json:"stale,omitempty"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Resources []ResourceCountResponse `json:"resources"`
	Errors    []SyncErrorResponse     `json:"errors"`
}

type ResourceCountResponse struct {
	Resource string `json:"resource"`
	Received int    `json:"received"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Errored  int    `json:"errored"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	Resource   string `json:"resource"`
	ExternalId string `json:"externalId"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncQueuePayload struct {
	RunId        uint `json:"run_id"`
	ConnectionId uint `json:"connection_id"`
}

type GeocodeQueuePayload struct {
	ConnectionId uint `json:"connection_id"`
	Continuation bool `json:"continuation"`
}
