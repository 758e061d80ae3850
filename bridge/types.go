package bridge

// Sink is a destination for forwarded elements (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends one element to the sink
	Publish(subject string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Filter decides which topics a bridge follows
type Filter interface {
	Match(topic string) bool
}
