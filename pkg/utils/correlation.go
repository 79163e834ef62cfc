package utils

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	charset           = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	correlationLength = 6
)

func GenerateCorrelationID() string {
	return randomString(correlationLength)
}

// ValidCorrelationID reports whether id has the shape GenerateCorrelationID produces.
func ValidCorrelationID(id string) bool {
	if len(id) != correlationLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(charset, rune(id[i])) {
			return false
		}
	}
	return true
}

func randomString(n int) string {
	result := make([]byte, n)

	for i := range result {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			idx = big.NewInt(int64(i * 17 % len(charset)))
		}
		result[i] = charset[idx.Int64()]
	}

	return string(result)
}

type correlationKey struct{}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID returns ctx carrying a correlation ID, storing a fresh
// one when ctx has none. Operations call it once at entry so every log line
// and published event of the operation shares the same ID.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return ctx
	}
	return WithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationID returns the ID stored in ctx, generating one if none is present.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return GenerateCorrelationID()
}

// LogPrefix renders the "[ID] " prefix used on every log line of a request.
func LogPrefix(ctx context.Context) string {
	return "[" + CorrelationID(ctx) + "] "
}
