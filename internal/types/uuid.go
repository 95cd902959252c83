package types

import (
	"crypto/rand"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Prefixes for generated entity ids
const (
	UUID_PREFIX_PLAN                = "plan"
	UUID_PREFIX_SUBSCRIPTION        = "subs"
	UUID_PREFIX_SEAT                = "seat"
	UUID_PREFIX_MEMBER              = "memb"
	UUID_PREFIX_ENTITLEMENT         = "entl"
	UUID_PREFIX_INVOICE             = "inv"
	UUID_PREFIX_INVOICE_LINE_ITEM   = "invl"
	UUID_PREFIX_REVENUE_SHARE       = "revs"
	UUID_PREFIX_PAYMENT_TRANSACTION = "txn"
	UUID_PREFIX_EVENT               = "evt"
)

// GenerateUUID returns a lowercase ULID
func GenerateUUID() string {
	return strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
}

// GenerateUUIDWithPrefix returns a lowercase ULID prefixed with the entity
// type, e.g. "subs_01hg7..."
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return prefix + "_" + GenerateUUID()
}
