// Package collection implements the issuance authority: a role-gated registry
// of unique items. The auction engine holds only the Mint capability against
// it; metadata administration is gated separately.
package collection

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"dutchdrop/core/events"
)

const (
	// RoleMinter gates item creation.
	RoleMinter = "ROLE_MINTER"
	// RoleMetadata gates base-locator updates.
	RoleMetadata = "ROLE_METADATA"
)

var (
	// ErrTokenExists marks an attempt to mint an identifier that is already taken.
	ErrTokenExists = errors.New("collection: token already exists")
	// ErrTokenNotFound marks a lookup of an identifier that was never minted.
	ErrTokenNotFound = errors.New("collection: token not found")
	// ErrMissingRole marks a gated operation invoked without the required role.
	ErrMissingRole = errors.New("collection: missing role")

	errNilState = errors.New("collection registry: state not configured")
)

type registryState interface {
	TokenPut(id uint64, owner [20]byte) error
	TokenGet(id uint64) ([20]byte, bool)
	TokenCount() uint64
	BaseURI() string
	SetBaseURI(uri string) error
	HasRole(role string, addr [20]byte) bool
}

// Registry is the unique-item registry backing the auction's issuance
// delegation. It grants itself no roles: the deployer must authorize minters
// and metadata setters explicitly in state.
type Registry struct {
	addr    [20]byte
	state   registryState
	emitter events.Emitter
}

// NewRegistry creates a registry identified by the given module address.
func NewRegistry(addr [20]byte) *Registry {
	return &Registry{addr: addr, emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Address returns the module address the registry is bound under.
func (r *Registry) Address() [20]byte { return r.addr }

func (r *Registry) emit(evt events.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(evt)
}

// Mint records a new unique item owned by owner. The caller must hold
// RoleMinter and the identifier must be unused.
func (r *Registry) Mint(caller [20]byte, id uint64, owner [20]byte) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if !r.state.HasRole(RoleMinter, caller) {
		return fmt.Errorf("%w: %s", ErrMissingRole, RoleMinter)
	}
	if id == 0 {
		return fmt.Errorf("collection: token id must be positive")
	}
	if _, exists := r.state.TokenGet(id); exists {
		return fmt.Errorf("%w: %d", ErrTokenExists, id)
	}
	if err := r.state.TokenPut(id, owner); err != nil {
		return err
	}
	r.emit(Minted{TokenID: id, Owner: owner})
	return nil
}

// SetBaseURI updates the metadata base locator. The caller must hold
// RoleMetadata.
func (r *Registry) SetBaseURI(caller [20]byte, uri string) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if !r.state.HasRole(RoleMetadata, caller) {
		return fmt.Errorf("%w: %s", ErrMissingRole, RoleMetadata)
	}
	trimmed := strings.TrimSpace(uri)
	if err := r.state.SetBaseURI(trimmed); err != nil {
		return err
	}
	r.emit(BaseURISet{BaseURI: trimmed})
	return nil
}

// OwnerOf returns the owner of the identifier.
func (r *Registry) OwnerOf(id uint64) ([20]byte, error) {
	if r == nil || r.state == nil {
		return [20]byte{}, errNilState
	}
	owner, ok := r.state.TokenGet(id)
	if !ok {
		return [20]byte{}, fmt.Errorf("%w: %d", ErrTokenNotFound, id)
	}
	return owner, nil
}

// TokenURI returns the metadata locator for the identifier: the base locator
// with the decimal id appended.
func (r *Registry) TokenURI(id uint64) (string, error) {
	if r == nil || r.state == nil {
		return "", errNilState
	}
	if _, ok := r.state.TokenGet(id); !ok {
		return "", fmt.Errorf("%w: %d", ErrTokenNotFound, id)
	}
	base := r.state.BaseURI()
	if base == "" {
		return "", nil
	}
	return base + strconv.FormatUint(id, 10), nil
}

// TotalSupply returns the number of items minted so far.
func (r *Registry) TotalSupply() uint64 {
	if r == nil || r.state == nil {
		return 0
	}
	return r.state.TokenCount()
}
