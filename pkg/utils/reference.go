package utils

import (
	"strings"

	"github.com/google/uuid"
)

const (
	PaymentPrefix      = "PAY"
	RefundPrefix       = "RFD"
	DisbursementPrefix = "DSB"
)

// ReferenceGenerator produces opaque transaction references. Uniqueness is
// enforced by the storage layer, so implementations only need to be random.
type ReferenceGenerator interface {
	Generate(prefix string) string
}

type ReferenceFunc func(prefix string) string

func (f ReferenceFunc) Generate(prefix string) string {
	return f(prefix)
}

// References is the default generator: PREFIX-<8 hex of a UUIDv7>-<8 random chars>.
var References ReferenceGenerator = ReferenceFunc(func(prefix string) string {
	id := strings.ReplaceAll(GenerateUUID7(), "-", "")
	if len(id) < 8 {
		id = strings.Repeat("0", 8)
	}
	return prefix + "-" + strings.ToUpper(id[len(id)-8:]) + "-" + randomString(8)
})

func GenerateUUID7() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}
