package kafka

// Topic definitions for Kafka event streaming
const (
	// Serving events
	TopicPredictionMade = "predictions.made"
	TopicEncodingSkew   = "encoding.skew"

	// Model lifecycle events
	TopicModelPublished = "models.published"
	TopicModelReload    = "models.reload" // operator reload requests, consumed by servers
)
