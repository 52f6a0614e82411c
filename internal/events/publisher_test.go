package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepdx/internal/adapters/kafka"
	"sleepdx/pkg/logger"
)

type sent struct {
	topic string
	key   string
	body  []byte
}

type fakeProducer struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeProducer) Publish(_ context.Context, topic, key string, event interface{}) error {
	if f.err != nil {
		return f.err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{topic: topic, key: key, body: body})
	return nil
}

func TestPublisher_Topics(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, "server", logger.Nop())
	ctx := context.Background()

	require.NoError(t, p.PublishPrediction(ctx, &PredictionMade{ModelVersion: "v1", Code: 2, Label: "Sleep Apnea"}))
	require.NoError(t, p.PublishSkew(ctx, &EncodingSkew{ModelVersion: "v1", Field: "occupation", Raw: "Astro\xffnaut"}))
	require.NoError(t, p.PublishModelPublished(ctx, &ModelPublished{ModelVersion: "v2"}))
	require.NoError(t, p.PublishReloadRequest(ctx, &ModelReloadRequest{Requester: "ops"}))

	require.Len(t, producer.sent, 4)
	assert.Equal(t, kafka.TopicPredictionMade, producer.sent[0].topic)
	assert.Equal(t, "v1", producer.sent[0].key)
	assert.Equal(t, kafka.TopicEncodingSkew, producer.sent[1].topic)
	assert.Equal(t, "occupation", producer.sent[1].key)
	assert.Equal(t, kafka.TopicModelPublished, producer.sent[2].topic)
	assert.Equal(t, kafka.TopicModelReload, producer.sent[3].topic)

	var skew EncodingSkew
	require.NoError(t, json.Unmarshal(producer.sent[1].body, &skew))
	assert.Equal(t, "Astronaut", skew.Raw)
	assert.Equal(t, TypeEncodingSkew, skew.Type)
	assert.Equal(t, "server", skew.Source)
	assert.NotEmpty(t, skew.ID)

	var pred map[string]interface{}
	require.NoError(t, json.Unmarshal(producer.sent[0].body, &pred))
	assert.Equal(t, "Sleep Apnea", pred["prediction_label"])
	assert.EqualValues(t, 2, pred["prediction_code"])
}

func TestPublisher_Error(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	p := NewPublisher(producer, "trainer", logger.Nop())

	err := p.PublishModelPublished(context.Background(), &ModelPublished{ModelVersion: "v1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}
