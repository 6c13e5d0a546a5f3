package worker

import (
	"time"

	"omx/internal/errors"
	"omx/internal/store"
)

// Identity is the persisted worker identity (workers/<name>/identity.json).
// Names and indexes are allocated once and never reassigned within a team
// session, even after the worker is removed.
type Identity struct {
	Team      string    `json:"team"`
	Name      string    `json:"name"`
	Index     int       `json:"index"`
	Role      string    `json:"role"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WriteIdentity persists an identity record.
func WriteIdentity(layout store.Layout, id Identity) error {
	return store.WriteJSON(layout.IdentityPath(id.Name), id)
}

// ReadIdentity loads a worker's identity. A missing record is reported as
// not_found.
func ReadIdentity(layout store.Layout, name string) (Identity, error) {
	var id Identity
	ok, err := store.ReadJSON(layout.IdentityPath(name), &id)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, errors.Ef(errors.KindNotFound, "worker.identity",
			"no identity for %q", name).WithWorker(name)
	}
	return id, nil
}
