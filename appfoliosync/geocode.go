package appfoliosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rilaconsulting/pmpulse-sub006/config"
	"github.com/rilaconsulting/pmpulse-sub006/models"
)

const defaultGeocodeBatch = 25

type geocoder struct {
	baseURL string
	http    *http.Client
	sleep   func(ctx context.Context, d time.Duration) error
}

func newGeocoder() *geocoder {
	baseURL := strings.TrimSpace(os.Getenv("GEOCODER_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	return &geocoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		sleep:   sleepCtx,
	}
}

type geocodeResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (g *geocoder) lookup(ctx context.Context, address string) (float64, float64, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("q", address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("User-Agent", "pmpulse-sync/1.0")

	resp, err := g.http.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("geocoder status %d", resp.StatusCode)
	}

	var results []geocodeResult
	if err := json.Unmarshal(body, &results); err != nil {
		return 0, 0, err
	}
	if len(results) == 0 {
		return 0, 0, errors.New("no geocoding match")
	}
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return 0, 0, err
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// ProcessGeocodeJob resolves coordinates for one batch of properties that
// have an address but no geocode result yet. When more rows remain after the
// batch, the job republishes itself so a long backlog drains one batch per
// delivery instead of holding a worker.
func ProcessGeocodeJob(ctx context.Context, payload GeocodeQueuePayload) error {
	if !config.LoadSyncFeatures().AutoGeocoding {
		return nil
	}
	db := config.GetDB().WithContext(ctx)

	batchSize := config.IntFromEnv("GEOCODE_BATCH_SIZE", defaultGeocodeBatch)
	var properties []models.Property
	if err := db.
		Where("geocoded_at IS NULL AND address <> ''").
		Order("id").
		Limit(batchSize + 1).
		Find(&properties).Error; err != nil {
		return err
	}
	if len(properties) == 0 {
		return nil
	}

	more := len(properties) > batchSize
	if more {
		properties = properties[:batchSize]
	}

	g := newGeocoder()
	for _, property := range properties {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		address := strings.TrimSpace(strings.Join([]string{property.Address, property.City, property.State, property.PostalCode}, ", "))
		lat, lon, err := g.lookup(ctx, address)

		now := time.Now()
		updates := map[string]interface{}{"geocoded_at": now}
		if err == nil {
			updates["latitude"] = lat
			updates["longitude"] = lon
		} else {
			// marking the row keeps an unresolvable address from wedging
			// every future batch; a later address change clears the mark
			config.LogError(config.GetLogger(), "appfoliosync", "ProcessGeocodeJob", "lookup", map[string]interface{}{"propertyId": property.ID}, err)
		}
		if uerr := db.Model(&models.Property{}).
			Where("id = ?", property.ID).
			Updates(updates).Error; uerr != nil {
			return uerr
		}

		// public geocoders throttle aggressively, pace the batch
		if err := g.sleep(ctx, time.Second); err != nil {
			return err
		}
	}

	if more {
		return PublishGeocodeJob(ctx, GeocodeQueuePayload{ConnectionId: payload.ConnectionId, Continuation: true})
	}
	return nil
}
