package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSplitBrokers(t *testing.T) {
	assert.Nil(t, splitBrokers(""))
	assert.Nil(t, splitBrokers(" , "))
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, splitBrokers("broker1:9092, broker2:9092,"))
}

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer("", log.WithField("test", "kafka"))

	assert.NoError(t, err)
	assert.Nil(t, producer)
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	producer, err := initKafkaProducer("invalid-broker:9999", log.WithField("test", "kafka"))

	assert.Error(t, err)
	assert.Nil(t, producer)
}

func TestCloseKafka_NilProducer(_ *testing.T) {
	closeKafka(nil, log.WithField("test", "kafka"))
}
