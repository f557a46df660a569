package auction

import (
	"math/big"
	"strconv"

	"dutchdrop/core/events"
	"dutchdrop/crypto"
)

const (
	EventTypePurchased      = "auction.purchased"
	EventTypeAuthorityBound = "auction.authority_bound"
	EventTypeWithdrawn      = "auction.withdrawn"
)

// Purchased is emitted once a purchase has fully committed, after delegation
// and refund succeed.
type Purchased struct {
	Buyer        [20]byte
	Amount       uint64
	Price        *big.Int
	Cost         *big.Int
	Refund       *big.Int
	FirstTokenID uint64
}

func (Purchased) EventType() string { return EventTypePurchased }

func (e Purchased) Record() *events.Record {
	return &events.Record{
		Type: EventTypePurchased,
		Attributes: map[string]string{
			"buyer":        crypto.NewAddress(crypto.DropPrefix, e.Buyer[:]).String(),
			"amount":       strconv.FormatUint(e.Amount, 10),
			"price":        formatAmount(e.Price),
			"cost":         formatAmount(e.Cost),
			"refund":       formatAmount(e.Refund),
			"firstTokenId": strconv.FormatUint(e.FirstTokenID, 10),
		},
	}
}

// AuthorityBound is emitted for the one-time unset-to-bound transition of the
// issuance authority reference.
type AuthorityBound struct {
	Authority [20]byte
}

func (AuthorityBound) EventType() string { return EventTypeAuthorityBound }

func (e AuthorityBound) Record() *events.Record {
	return &events.Record{
		Type: EventTypeAuthorityBound,
		Attributes: map[string]string{
			"authority": crypto.NewAddress(crypto.DropPrefix, e.Authority[:]).String(),
		},
	}
}

// Withdrawn is emitted when the operator drains the proceeds vault, including
// zero-amount withdrawals.
type Withdrawn struct {
	To     [20]byte
	Amount *big.Int
}

func (Withdrawn) EventType() string { return EventTypeWithdrawn }

func (e Withdrawn) Record() *events.Record {
	return &events.Record{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"to":     crypto.NewAddress(crypto.DropPrefix, e.To[:]).String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
