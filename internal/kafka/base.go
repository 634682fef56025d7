package kafka

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"hash"
	"time"

	"github.com/Shopify/sarama"
	"github.com/flexprice/billing/internal/config"
	"github.com/xdg-go/scram"
)

// GetSaramaConfig builds the sarama config shared by the outbox publisher
// and the payment events subscriber.
func GetSaramaConfig(cfg *config.Configuration) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.ClientID = cfg.Kafka.ClientID

	// A new consumer group starts from the oldest offset so no payment
	// failure published before the first deploy is skipped.
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = 5 * time.Second
	sc.Consumer.Offsets.Retry.Max = 3

	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = 5

	if cfg.Kafka.TLS {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if !cfg.Kafka.UseSASL {
		return sc
	}

	sc.Net.SASL.Enable = true
	sc.Net.TLS.Enable = true
	sc.Net.SASL.Mechanism = cfg.Kafka.SASLMechanism
	sc.Net.SASL.User = cfg.Kafka.SASLUser
	sc.Net.SASL.Password = cfg.Kafka.SASLPassword

	if cfg.Kafka.SASLMechanism == sarama.SASLTypeSCRAMSHA256 || cfg.Kafka.SASLMechanism == sarama.SASLTypeSCRAMSHA512 {
		sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: hashGenerator(cfg.Kafka.SASLMechanism)}
		}
	}

	return sc
}

// XDGSCRAMClient implements sarama.SCRAMClient
type XDGSCRAMClient struct {
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *XDGSCRAMClient) Begin(userName, password, authzID string) error {
	client, err := x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = client.NewConversation()
	return nil
}

func (x *XDGSCRAMClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

func (x *XDGSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}

func hashGenerator(mechanism sarama.SASLMechanism) scram.HashGeneratorFcn {
	if mechanism == sarama.SASLTypeSCRAMSHA256 {
		return func() hash.Hash { return sha256.New() }
	}
	return func() hash.Hash { return sha512.New() }
}
