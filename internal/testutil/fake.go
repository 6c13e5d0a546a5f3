package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"omx/internal/spawner"
	"omx/internal/transport"
)

// ReadyMarker is the capture substring FakeSpawner treats as an interactive
// prompt. Script FakeTransport captures with it to control readiness.
const ReadyMarker = "READY"

// FakeTransport is a scripted in-memory Transport. Every mutating call is
// recorded so tests can assert on the exact interaction sequence.
type FakeTransport struct {
	mu sync.Mutex

	// KindValue is what Kind reports. Defaults to the process kind.
	KindValue transport.Kind

	// CaptureScript holds per-address capture outputs, consumed in order;
	// the last entry repeats once the script is exhausted. Addresses with
	// no script return CaptureDefault.
	CaptureScript  map[string][]string
	CaptureDefault string

	// AddSlotErr, SendErr and CreateErr force failures.
	AddSlotErr error
	SendErr    error
	CreateErr  error

	// Recorded interactions.
	Sessions  []string
	Slots     map[string][]transport.Slot
	Sent      map[string][]string
	Triggers  map[string]int
	Killed    []string
	Destroyed []string

	// Live tracks addresses reported by ListSlots. AddSlot appends; KillSlot
	// and DestroySession remove. Tests may edit it to simulate foreign or
	// vanished slots.
	Live map[string][]string

	nextSlot int
}

// NewFakeTransport returns an empty scripted transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		KindValue:      transport.KindProcess,
		CaptureScript:  map[string][]string{},
		CaptureDefault: ReadyMarker,
		Slots:          map[string][]transport.Slot{},
		Sent:           map[string][]string{},
		Triggers:       map[string]int{},
		Live:           map[string][]string{},
	}
}

func (f *FakeTransport) Kind() transport.Kind {
	if f.KindValue == "" {
		return transport.KindProcess
	}
	return f.KindValue
}

func (f *FakeTransport) CreateSession(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.Sessions = append(f.Sessions, name)
	if _, ok := f.Live[name]; !ok {
		f.Live[name] = nil
	}
	return name, nil
}

func (f *FakeTransport) AddSlot(_ context.Context, handle string, spec transport.SlotSpec) (transport.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AddSlotErr != nil {
		return transport.Slot{}, f.AddSlotErr
	}
	f.nextSlot++
	slot := transport.Slot{Address: fmt.Sprintf("%%%d", f.nextSlot), Title: spec.Title}
	f.Slots[handle] = append(f.Slots[handle], slot)
	f.Live[handle] = append(f.Live[handle], slot.Address)
	return slot, nil
}

func (f *FakeTransport) SendText(_ context.Context, address, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent[address] = append(f.Sent[address], text)
	return nil
}

func (f *FakeTransport) Trigger(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Triggers[address]++
	return nil
}

func (f *FakeTransport) Capture(_ context.Context, address string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.CaptureScript[address]
	if len(script) == 0 {
		return f.CaptureDefault, nil
	}
	out := script[0]
	if len(script) > 1 {
		f.CaptureScript[address] = script[1:]
	}
	return out, nil
}

func (f *FakeTransport) KillSlot(_ context.Context, address string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Killed = append(f.Killed, address)
	for handle, addrs := range f.Live {
		f.Live[handle] = remove(addrs, address)
	}
	return nil
}

func (f *FakeTransport) ListSlots(_ context.Context, handle string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Live[handle]...), nil
}

func (f *FakeTransport) DestroySession(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Destroyed = append(f.Destroyed, handle)
	delete(f.Live, handle)
	return nil
}

// TriggerCount returns how many times an address was triggered.
func (f *FakeTransport) TriggerCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Triggers[address]
}

// SentTo returns the texts sent to an address.
func (f *FakeTransport) SentTo(address string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Sent[address]...)
}

// DropLive removes an address from ListSlots output without recording a
// kill, simulating a slot that died on its own.
func (f *FakeTransport) DropLive(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for handle, addrs := range f.Live {
		f.Live[handle] = remove(addrs, address)
	}
}

func remove(addrs []string, address string) []string {
	out := addrs[:0]
	for _, a := range addrs {
		if a != address {
			out = append(out, a)
		}
	}
	return out
}

// FakeSpawner is a scripted Spawner: the built command is a recognizable
// stub and readiness is keyed off ReadyMarker in the capture.
type FakeSpawner struct {
	AgentValue spawner.AgentType
	CommandErr error

	mu         sync.Mutex
	ReadyCalls int
}

func (f *FakeSpawner) Agent() spawner.AgentType {
	if f.AgentValue == "" {
		return spawner.AgentClaude
	}
	return f.AgentValue
}

func (f *FakeSpawner) BuildCommand(p spawner.Params) (string, error) {
	if f.CommandErr != nil {
		return "", f.CommandErr
	}
	return "fake-agent " + p.Identity(), nil
}

func (f *FakeSpawner) BuildEnv(p spawner.Params) []string {
	return []string{"TEAM_WORKER=" + p.Identity()}
}

func (f *FakeSpawner) IsReady(capture string) bool {
	f.mu.Lock()
	f.ReadyCalls++
	f.mu.Unlock()
	return strings.Contains(capture, ReadyMarker)
}
