package payments

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"
)

const (
	transactionPrefix     = "TXN"
	transactionSuffixLen  = 6
	transactionAlphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	defaultConfirmationTo = "/viewOrder.html"
)

// TransactionIDs issues display-only confirmation tokens of the form TXN-<epoch ms>-<6 base36>.
// The tokens carry no backend meaning and are not meant to be unguessable.
type TransactionIDs struct {
	now    func() time.Time
	random func(n int) int
}

// NewTransactionIDs builds a generator reading time from now. A nil clock uses time.Now.
func NewTransactionIDs(now func() time.Time) *TransactionIDs {
	if now == nil {
		now = time.Now
	}
	return &TransactionIDs{now: now, random: rand.IntN}
}

// Next returns a fresh transaction id.
func (g *TransactionIDs) Next() string {
	if g == nil {
		g = NewTransactionIDs(nil)
	}
	suffix := make([]byte, transactionSuffixLen)
	for i := range suffix {
		suffix[i] = transactionAlphabet[g.random(len(transactionAlphabet))]
	}
	return fmt.Sprintf("%s-%d-%s", transactionPrefix, g.now().UnixMilli(), suffix)
}

// ConfirmationURL points the browser at the order confirmation page. The order number is shown
// when known, otherwise the transaction id stands in for it.
func ConfirmationURL(path, orderNumber, transactionID string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultConfirmationTo
	}
	orderID := strings.TrimSpace(orderNumber)
	if orderID == "" {
		orderID = transactionID
	}
	values := url.Values{}
	values.Set("orderId", orderID)
	values.Set("transactionId", transactionID)
	return path + "?" + values.Encode()
}
