package ilp

import (
	"fmt"
	"strings"
)

// Address is a destination account split against the ledger prefix the
// receiver knows it is serving. For a PSK payment the payer appends the
// session id from the Pay header and a per-payment counter to the
// receiver's account, e.g.
//
//	example.letter-shop.mytrustline.shop.dGVzdHNlc3M.0
//	\________________prefix________/ \__/ \________/ ^
//	                                 acct  session   payment index
type Address struct {
	LedgerPrefix string
	AccountID    string
	SessionID    string
	PaymentIndex string
}

// ParseAddress splits a destination account relative to a ledger prefix.
// The prefix must end with a dot. Anything beyond the fourth segment is
// rejected rather than silently ignored, the original scripts indexed
// into the split blindly and would misroute such payments.
func ParseAddress(ledgerPrefix, destination string) (Address, error) {
	if !strings.HasSuffix(ledgerPrefix, ".") {
		return Address{}, fmt.Errorf("ledger prefix %q does not end with a dot", ledgerPrefix)
	}
	if !strings.HasPrefix(destination, ledgerPrefix) {
		return Address{}, fmt.Errorf("destination %q is not on ledger %q", destination, ledgerPrefix)
	}
	local := strings.TrimPrefix(destination, ledgerPrefix)
	if local == "" {
		return Address{}, fmt.Errorf("destination %q has no local part", destination)
	}
	parts := strings.Split(local, ".")
	for _, p := range parts {
		if p == "" {
			return Address{}, fmt.Errorf("destination %q has an empty address segment", destination)
		}
	}
	addr := Address{LedgerPrefix: ledgerPrefix, AccountID: parts[0]}
	switch len(parts) {
	case 1:
	case 2:
		addr.SessionID = parts[1]
	case 3:
		addr.SessionID = parts[1]
		addr.PaymentIndex = parts[2]
	default:
		return Address{}, fmt.Errorf("destination %q has %d local segments, at most 3 supported", destination, len(parts))
	}
	return addr, nil
}

func (a Address) String() string {
	s := a.LedgerPrefix + a.AccountID
	if a.SessionID != "" {
		s += "." + a.SessionID
	}
	if a.PaymentIndex != "" {
		s += "." + a.PaymentIndex
	}
	return s
}
