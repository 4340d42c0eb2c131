package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/hmoriya/tradegate/internal/notify"
	"github.com/hmoriya/tradegate/internal/pipeline"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestPipelineDefaults_UnconfiguredUsesStandard(t *testing.T) {
	resetViper(t)

	assert.Equal(t, pipeline.DefaultPipeline(), pipelineDefaults())
}

func TestPipelineDefaults_ReadsPipelineKeys(t *testing.T) {
	resetViper(t)

	viper.Set("pipeline.regime", "US_EAR")
	viper.Set("pipeline.threshold", 0.6)
	viper.Set("pipeline.top_k", 5)
	viper.Set("pipeline.max_requirements", 20)

	d := pipelineDefaults()
	assert.Equal(t, "US_EAR", d.Regime)
	assert.InDelta(t, 0.6, d.Threshold, 1e-9)
	assert.Equal(t, 5, d.TopK)
	assert.Equal(t, 20, d.MaxRequirements)
}

func TestWebhookRetryOptions_UnconfiguredUsesStandard(t *testing.T) {
	resetViper(t)

	assert.Equal(t, notify.DefaultRetryOptions(), webhookRetryOptions())
}

func TestWebhookRetryOptions_ReadsWebhookKeys(t *testing.T) {
	resetViper(t)

	viper.Set("webhook.max_attempts", 5)
	viper.Set("webhook.base_delay", "250ms")

	opts := webhookRetryOptions()
	assert.Equal(t, 5, opts.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, opts.InitialDelay)

	// Knobs not configured keep the notifier's policy.
	assert.Equal(t, notify.DefaultRetryOptions().Multiplier, opts.Multiplier)
}
