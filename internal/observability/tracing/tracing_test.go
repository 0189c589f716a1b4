package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsPositions(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("entity", "location"),
		attribute.Float64("latitude", 37.7749),
		attribute.Float64("longitude", -122.4194),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("entity"), attrs[0].Key)
}

func TestSafeErrorRedactsTokens(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	assert.EqualError(t, SafeError(errors.New("header Bearer abc rejected")), "redacted error")
	assert.EqualError(t, SafeError(errors.New("dial tcp: timeout")), "dial tcp: timeout")
}
