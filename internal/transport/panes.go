package transport

import (
	"sort"
	"time"

	"omx/internal/store"
)

// PaneSet is the persisted set of slot addresses the team has ever owned,
// plus the session they belong to. Shutdown unions it with the manifest's
// addresses before intersecting with live slots, so a slot created right
// before a crashed manifest write is still torn down. Leader and HUD are
// kept here as well so a cleanup without a readable manifest still knows
// which addresses it must never kill.
type PaneSet struct {
	Session   string    `json:"session"`
	Addresses []string  `json:"addresses"`
	Leader    string    `json:"leader,omitempty"`
	HUD       string    `json:"hud,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Has reports whether addr is recorded.
func (p PaneSet) Has(addr string) bool {
	for _, a := range p.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// ReadPanes loads the side-file. Missing or malformed reads return an empty
// set.
func ReadPanes(layout store.Layout) (PaneSet, error) {
	var p PaneSet
	found, err := store.ReadJSON(layout.Panes(), &p)
	if err != nil || !found {
		return PaneSet{}, err
	}
	return p, nil
}

// RecordPanes unions addrs into the side-file and rewrites it atomically.
// Addresses are only ever added; removal happens when the whole state root
// is cleaned up.
func RecordPanes(layout store.Layout, session string, addrs ...string) error {
	p, err := ReadPanes(layout)
	if err != nil {
		return err
	}
	p.Session = session
	for _, addr := range addrs {
		if addr != "" && !p.Has(addr) {
			p.Addresses = append(p.Addresses, addr)
		}
	}
	sort.Strings(p.Addresses)
	p.UpdatedAt = time.Now().UTC()
	return store.WriteJSON(layout.Panes(), p)
}

// RecordProtected stamps the leader and HUD addresses on the side-file and
// unions them into the address set.
func RecordProtected(layout store.Layout, session, leader, hud string) error {
	if err := RecordPanes(layout, session, leader, hud); err != nil {
		return err
	}
	p, err := ReadPanes(layout)
	if err != nil {
		return err
	}
	p.Leader = leader
	p.HUD = hud
	p.UpdatedAt = time.Now().UTC()
	return store.WriteJSON(layout.Panes(), p)
}
