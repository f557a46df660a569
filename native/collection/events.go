package collection

import (
	"strconv"

	"dutchdrop/core/events"
	"dutchdrop/crypto"
)

const (
	EventTypeMinted     = "collection.minted"
	EventTypeBaseURISet = "collection.base_uri_set"
)

// Minted is emitted for every unique item recorded by the registry.
type Minted struct {
	TokenID uint64
	Owner   [20]byte
}

func (Minted) EventType() string { return EventTypeMinted }

func (e Minted) Record() *events.Record {
	return &events.Record{
		Type: EventTypeMinted,
		Attributes: map[string]string{
			"tokenId": strconv.FormatUint(e.TokenID, 10),
			"owner":   crypto.NewAddress(crypto.DropPrefix, e.Owner[:]).String(),
		},
	}
}

// BaseURISet is emitted when the metadata base locator changes.
type BaseURISet struct {
	BaseURI string
}

func (BaseURISet) EventType() string { return EventTypeBaseURISet }

func (e BaseURISet) Record() *events.Record {
	return &events.Record{
		Type: EventTypeBaseURISet,
		Attributes: map[string]string{
			"baseUri": e.BaseURI,
		},
	}
}
