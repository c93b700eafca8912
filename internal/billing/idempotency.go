package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scope namespaces idempotency keys so different operation kinds can never
// collide on the gateway side.
type Scope string

const (
	ScopeCharge  Scope = "subscription-charge"
	ScopeRenewal Scope = "subscription-renewal"
)

// KeyGenerator derives deterministic gateway idempotency keys. A retried
// request built from the same inputs yields the same key, so the gateway
// recognizes it as a duplicate of one logical charge.
type KeyGenerator struct{}

func NewKeyGenerator() KeyGenerator { return KeyGenerator{} }

// GenerateKey hashes the scope plus sorted parameters into a short stable key.
func (g KeyGenerator) GenerateKey(scope Scope, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%s", k, params[k]))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s-%s", scope, hex.EncodeToString(hash[:16]))
}

// ChargeKey keys one logical charge by subscription, target tier and a
// period marker. For a subscription with a running period the marker is the
// period end, so every renewal attempt within that period reuses one key;
// for a first purchase the marker is the charge day.
func (g KeyGenerator) ChargeKey(scope Scope, subscriptionID, tierID uuid.UUID, periodEnd *time.Time, now time.Time) string {
	marker := now.UTC().Truncate(24 * time.Hour)
	if periodEnd != nil {
		marker = periodEnd.UTC()
	}
	return g.GenerateKey(scope, map[string]string{
		"subscription_id": subscriptionID.String(),
		"tier_id":         tierID.String(),
		"period":          marker.Format(time.RFC3339),
	})
}

// RenewalKey keys one recurring charge attempt. The retry ordinal is part
// of the key: a backoff retry scheduled after a final decline is a new
// logical charge the gateway must attempt again, while concurrent
// duplicates of the same attempt still collide.
func (g KeyGenerator) RenewalKey(subscriptionID, tierID uuid.UUID, periodEnd *time.Time, attempt int, now time.Time) string {
	marker := now.UTC().Truncate(24 * time.Hour)
	if periodEnd != nil {
		marker = periodEnd.UTC()
	}
	return g.GenerateKey(ScopeRenewal, map[string]string{
		"subscription_id": subscriptionID.String(),
		"tier_id":         tierID.String(),
		"period":          marker.Format(time.RFC3339),
		"attempt":         strconv.Itoa(attempt),
	})
}
