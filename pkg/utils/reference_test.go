package utils

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

var referencePattern = regexp.MustCompile(`^PAY-[0-9A-F]{8}-[A-Z0-9]{8}$`)

func TestReferencesAreWellFormedAndDistinct(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				ref := References.Generate(PaymentPrefix)
				mu.Lock()
				seen[ref] = struct{}{}
				mu.Unlock()
				assert.Regexp(t, referencePattern, ref)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4000)
}

func TestReferenceFunc(t *testing.T) {
	gen := ReferenceFunc(func(prefix string) string { return prefix + "-FIXED" })
	assert.Equal(t, "RFD-FIXED", gen.Generate(RefundPrefix))
}

func TestCorrelationIDFromContext(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "ABC123")
	assert.Equal(t, "ABC123", CorrelationID(ctx))
	assert.Equal(t, "[ABC123] ", LogPrefix(ctx))

	generated := CorrelationID(context.Background())
	assert.Len(t, generated, 6)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, generated)
}

func TestEnsureCorrelationIDIsStable(t *testing.T) {
	ctx := EnsureCorrelationID(context.Background())
	id := CorrelationID(ctx)
	assert.True(t, ValidCorrelationID(id), id)
	assert.Equal(t, id, CorrelationID(ctx))
	assert.Equal(t, "["+id+"] ", LogPrefix(ctx))

	kept := EnsureCorrelationID(WithCorrelationID(context.Background(), "ABC123"))
	assert.Equal(t, "ABC123", CorrelationID(kept))
}

func TestValidCorrelationID(t *testing.T) {
	for _, id := range []string{"ABC123", "ZZZZZZ", GenerateCorrelationID()} {
		assert.True(t, ValidCorrelationID(id), id)
	}
	for _, id := range []string{"", "abc123", "ABC12", "ABC1234", "AB C12", "AB\nC12", "<script>"} {
		assert.False(t, ValidCorrelationID(id), id)
	}
}
