package types

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	UUID_PREFIX_SUBSCRIPTION         = "subs"
	UUID_PREFIX_SUBSCRIPTION_HISTORY = "subh"
	UUID_PREFIX_PAYMENT_RETRY        = "pret"
	UUID_PREFIX_EVENT                = "evt"
)

// GenerateUUID returns a lowercase ULID, which sorts by creation time.
func GenerateUUID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}
