package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complykit/complykit/pkg/logger"
)

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestProfileID(t *testing.T) {
	attr := logger.ProfileID("prof_1")
	require.Equal(t, "profile_id", attr.Key)
	assert.Equal(t, "prof_1", attr.Value.String())

	assert.True(t, logger.ProfileID("").Equal(slog.Attr{}))
}

func TestSubscriptionID(t *testing.T) {
	attr := logger.SubscriptionID("sub_1")
	require.Equal(t, "subscription_id", attr.Key)
	assert.Equal(t, "sub_1", attr.Value.Any())

	assert.True(t, logger.SubscriptionID(nil).Equal(slog.Attr{}))
}

func TestRequestID(t *testing.T) {
	attr := logger.RequestID("abc")
	require.Equal(t, "request_id", attr.Key)
	assert.Equal(t, "abc", attr.Value.String())
}

func TestReference(t *testing.T) {
	assert.Equal(t, "reference", logger.Reference("ref_1").Key)
	assert.True(t, logger.Reference("").Equal(slog.Attr{}))
}
