package fanout

import (
	"context"
	"testing"
	"time"

	"aegismind-siem/pkg/changestream"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewKafkaObserverValidation(t *testing.T) {
	tests := []struct {
		name        string
		config      KafkaConfig
		expectError bool
	}{
		{
			name:   "valid configuration",
			config: KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "incidents"},
		},
		{
			name:        "missing brokers",
			config:      KafkaConfig{Topic: "incidents"},
			expectError: true,
		},
		{
			name:        "missing topic",
			config:      KafkaConfig{Brokers: []string{"localhost:9092"}},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := NewKafkaObserver(tt.config, logrus.StandardLogger())
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, obs)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, obs)
		})
	}
}

func TestChannelObserverPublishAndDrain(t *testing.T) {
	obs := NewChannelObserver(4)
	ctx := context.Background()

	n := changestream.Notification{Type: "incident.insert", Timestamp: time.Now().Unix()}
	assert.NoError(t, obs.Publish(ctx, n))

	received := <-obs.Notifications()
	assert.Equal(t, n.Type, received.Type)

	assert.NoError(t, obs.Stop())
}

func TestChannelObserverPublishRespectsContextCancellation(t *testing.T) {
	obs := NewChannelObserver(0) // unbuffered, no reader
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := obs.Publish(ctx, changestream.Notification{Type: "incident.update"})
	assert.Error(t, err)
}

func TestChannelObserverSatisfiesObserver(t *testing.T) {
	var _ Observer = NewChannelObserver(1)
}
