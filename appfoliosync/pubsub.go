package appfoliosync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/rilaconsulting/pmpulse-sub006/config"
)

func syncTopicName() string {
	if name := strings.TrimSpace(os.Getenv("SYNC_RUN_TOPIC")); name != "" {
		return name
	}
	return "appfolio-sync"
}

func geocodeTopicName() string {
	if name := strings.TrimSpace(os.Getenv("GEOCODE_TOPIC")); name != "" {
		return name
	}
	return "appfolio-geocode"
}

func analyticsTopicName() string {
	if name := strings.TrimSpace(os.Getenv("ANALYTICS_REFRESH_TOPIC")); name != "" {
		return name
	}
	return "analytics-refresh"
}

func publish(ctx context.Context, topicName string, payload interface{}) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if config.EnvBoolDefault("SYNC_CREATE_TOPICS", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PublishSyncRun enqueues a run for a worker to pick up.
func PublishSyncRun(ctx context.Context, payload SyncQueuePayload) error {
	return publish(ctx, syncTopicName(), payload)
}

func PublishGeocodeJob(ctx context.Context, payload GeocodeQueuePayload) error {
	return publish(ctx, geocodeTopicName(), payload)
}

// PublishAnalyticsRefresh signals downstream reporting that fresh data
// landed. The consumer lives outside this service.
func PublishAnalyticsRefresh(ctx context.Context, connectionId uint) error {
	return publish(ctx, analyticsTopicName(), map[string]uint{"connection_id": connectionId})
}

// PubSubPushHandler receives push deliveries for sync runs. Malformed
// messages ack with 204 so they do not loop forever; processing failures
// return 500 so the subscription redelivers. A run waiting on the connection
// lock counts as a processing failure and stays pending until redelivery.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.EnvBoolDefault("ENABLE_SYNC_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		payload, ok := decodePush[SyncQueuePayload](c)
		if !ok || payload.RunId == 0 {
			c.Status(204)
			return
		}

		if err := ProcessSyncRun(c.Request.Context(), payload); err != nil {
			config.LogError(config.GetLogger(), "appfoliosync", "PubSubPushHandler", "", map[string]interface{}{"runId": payload.RunId}, err)
			c.Status(500)
			return
		}
		c.Status(204)
	}
}

// GeocodePushHandler receives push deliveries for the geocoding job.
func GeocodePushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := decodePush[GeocodeQueuePayload](c)
		if !ok || payload.ConnectionId == 0 {
			c.Status(204)
			return
		}

		if err := ProcessGeocodeJob(c.Request.Context(), payload); err != nil {
			config.LogError(config.GetLogger(), "appfoliosync", "GeocodePushHandler", "", map[string]interface{}{"connectionId": payload.ConnectionId}, err)
			c.Status(500)
			return
		}
		c.Status(204)
	}
}

func decodePush[T any](c *gin.Context) (T, bool) {
	var zero T
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return zero, false
	}
	var envelope PubSubPushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return zero, false
	}
	var payload T
	if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
		return zero, false
	}
	return payload, true
}
