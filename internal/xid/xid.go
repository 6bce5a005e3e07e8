package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// New returns a durable row id.
func New() string {
	return uuid.NewString()
}

// InvoiceNumber returns a time+random token such as INV-1718000000000-482913.
func InvoiceNumber(prefix string, at time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return fmt.Sprintf("%s-%d-%06d", prefix, at.UnixMilli(), at.Nanosecond()%1_000_000)
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, at.UnixMilli(), n.Int64())
}
