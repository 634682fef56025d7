package kafka

import (
	"testing"

	"github.com/Shopify/sarama"
	"github.com/flexprice/billing/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSaramaConfig(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		cfg := config.GetDefaultConfig()
		sc := GetSaramaConfig(cfg)

		assert.Equal(t, cfg.Kafka.ClientID, sc.ClientID)
		assert.Equal(t, sarama.OffsetOldest, sc.Consumer.Offsets.Initial)
		assert.False(t, sc.Net.SASL.Enable)
		assert.True(t, sc.Producer.Return.Successes)
	})

	t.Run("scram", func(t *testing.T) {
		cfg := config.GetDefaultConfig()
		cfg.Kafka.UseSASL = true
		cfg.Kafka.SASLMechanism = sarama.SASLTypeSCRAMSHA256
		cfg.Kafka.SASLUser = "user"
		cfg.Kafka.SASLPassword = "secret"

		sc := GetSaramaConfig(cfg)
		assert.True(t, sc.Net.SASL.Enable)
		assert.True(t, sc.Net.TLS.Enable)
		require.NotNil(t, sc.Net.SASL.SCRAMClientGeneratorFunc)

		client := sc.Net.SASL.SCRAMClientGeneratorFunc()
		require.NoError(t, client.Begin("user", "secret", ""))
		first, err := client.Step("")
		require.NoError(t, err)
		assert.Contains(t, first, "n=user")
		assert.False(t, client.Done())
	})
}
