// Package events publishes subscription domain events to Kafka with
// github.com/IBM/sarama. Delivery is best effort after commit: the database
// stays the source of truth and consumers must tolerate gaps.
package events
