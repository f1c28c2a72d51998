package utils

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator produces ULID-based identifiers for processing runs and
// payment references. Monotonic entropy keeps IDs sortable within one
// process even when generated in the same millisecond.
type IDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *IDGenerator) generate(at time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), g.entropy).String()
}

// ProcessingID returns a "proc_" prefixed run identifier.
func (g *IDGenerator) ProcessingID(at time.Time) string {
	return "proc_" + g.generate(at)
}

// PaymentReference returns an upper-cased prefixed reference, e.g.
// PAY_01ARZ3NDEKTSV4RRFFQ69G5FAV.
func (g *IDGenerator) PaymentReference(prefix string, at time.Time) string {
	return strings.ToUpper(prefix) + "_" + g.generate(at)
}

// ValidateProcessingID reports whether s is a well-formed processing ID.
func ValidateProcessingID(s string) bool {
	raw, ok := strings.CutPrefix(s, "proc_")
	if !ok || len(raw) != 26 {
		return false
	}
	_, err := ulid.ParseStrict(raw)
	return err == nil
}
