//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/kafka"
	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/refresh"
	"github.com/couchcryptid/flood-risk-service/internal/weather"
)

const testRiskTopic = "test-region-risk-updates"

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("floodless-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// fixedFetcher classifies every region at the same level.
type fixedFetcher struct{ level domain.RiskLevel }

func (f fixedFetcher) FetchAndApply(_ context.Context, r *domain.Region) weather.Outcome {
	r.ApplyClimate(20, domain.Classification{RainScore: 90, Level: f.level, IsRiskArea: true}, time.Now())
	return weather.Outcome{Live: true}
}

// TestRiskChangeReachesKafka verifies that a refresh changing a region's
// level publishes a keyed RiskChange with headers through the Kafka writer.
func TestRiskChangeReachesKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRiskTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaRiskTopic: testRiskTopic}
	logger := observability.DiscardLogger()
	writer := kafka.NewWriter(cfg, logger)
	defer func() { _ = writer.Close() }()

	r := refresh.New(ctx, fixedFetcher{level: domain.RiskCritical}, writer, time.Minute,
		clockwork.NewRealClock(), logger, observability.NewMetricsForTesting())

	region := &domain.Region{ID: 12, Name: "Vila Industrial"}
	out := r.Refresh(ctx, region)
	require.True(t, out.Live)

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testRiskTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	defer func() { _ = reader.Close() }()

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err, "read from risk topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	var change domain.RiskChange
	require.NoError(t, json.Unmarshal(msg.Value, &change))

	assert.Equal(t, "12", string(msg.Key))
	assert.Equal(t, "CRITICAL", headers["risk_level"])
	assert.NotEmpty(t, headers["changed_at"])
	assert.Equal(t, int64(12), change.RegionID)
	assert.Equal(t, domain.RiskLow, change.Previous)
	assert.Equal(t, domain.RiskCritical, change.Current)
}
