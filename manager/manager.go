// Package manager implements the wallet orchestrator: the registry of
// wallet adapters, the single active adapter, and the lifecycle event
// stream the rest of the SDK observes.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Yogabuild/pybara-ic-protocol/logger"
	"github.com/Yogabuild/pybara-ic-protocol/metrics"
	"github.com/Yogabuild/pybara-ic-protocol/types"
	"github.com/Yogabuild/pybara-ic-protocol/wallets"
)

type listenerEntry struct {
	id int
	fn types.Listener
}

// WalletManager is the single point of truth for which wallet, if any, is
// currently driving the agent. At most one adapter is active at a time.
//
// The mutex guards the manager's own state (registry, active reference,
// listener table) and is never held across adapter I/O. Concurrent Connect
// calls on one instance are therefore not serialized; issuing two at once
// is a caller error.
type WalletManager struct {
	mu        sync.Mutex
	adapters  map[types.WalletType]wallets.Adapter
	order     []types.WalletType
	active    wallets.Adapter
	listeners map[types.EventName][]listenerEntry
	nextID    int

	log logger.Logger
	rec metrics.Recorder
}

func NewWalletManager(log logger.Logger, rec metrics.Recorder) *WalletManager {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}

	return &WalletManager{
		adapters:  make(map[types.WalletType]wallets.Adapter),
		listeners: make(map[types.EventName][]listenerEntry),
		log:       log,
		rec:       rec,
	}
}

// Register adds an adapter to the registry. Registration happens at agent
// construction; the registry never changes afterwards.
func (m *WalletManager) Register(a wallets.Adapter) error {
	if a == nil {
		return types.NewPaymentError(types.ErrConfig, "cannot register a nil adapter")
	}

	t := a.Type()
	if t == "" {
		return types.NewPaymentError(types.ErrConfig, "adapter has an empty wallet type tag")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.adapters[t]; dup {
		return types.NewPaymentError(types.ErrConfig, "wallet %s is already registered", t)
	}

	m.adapters[t] = a
	m.order = append(m.order, t)
	return nil
}

// Registered reports whether a wallet type is in the registry.
func (m *WalletManager) Registered(t types.WalletType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.adapters[t]
	return ok
}

// Descriptors lists every registered wallet in registration order, with
// live availability and connection flags.
func (m *WalletManager) Descriptors() []types.WalletDescriptor {
	m.mu.Lock()
	order := append([]types.WalletType(nil), m.order...)
	adapters := make([]wallets.Adapter, 0, len(order))
	for _, t := range order {
		adapters = append(adapters, m.adapters[t])
	}
	m.mu.Unlock()

	out := make([]types.WalletDescriptor, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a.Descriptor())
	}
	return out
}

// Connect looks the wallet up, checks availability, runs the adapter's
// handshake, and on success marks it active and emits a connected event.
// The active reference is already set by the time listeners run.
func (m *WalletManager) Connect(ctx context.Context, walletType types.WalletType) (string, error) {
	m.mu.Lock()
	a, ok := m.adapters[walletType]
	m.mu.Unlock()

	if !ok {
		return "", types.NewPaymentError(types.ErrNotAvailable, "wallet not found: %s", walletType)
	}

	if !a.IsAvailable() {
		d := a.Descriptor()
		return "", &types.PaymentError{
			Code:    types.ErrNotAvailable,
			Wallet:  walletType,
			Message: fmt.Sprintf("%s is not installed. Get it at %s", d.Name, d.Website),
		}
	}

	start := time.Now()
	principal, err := a.Connect(ctx)
	m.rec.ObserveLatency("wallet_connect", time.Since(start), walletLabels(walletType))

	if err != nil {
		m.rec.IncCounter("connect_failure", walletLabels(walletType))
		if types.IsUserRejected(err) {
			m.log.Info("wallet connect declined", logger.Fields{"wallet": walletType.String()})
		} else {
			m.log.Error("wallet connect failed", logger.Fields{
				"wallet": walletType.String(),
				"error":  err.Error(),
			})
		}
		m.emit(types.Event{Name: types.EventError, Wallet: walletType, Action: "connect", Err: err})
		return "", err
	}

	m.mu.Lock()
	m.active = a
	m.mu.Unlock()

	m.rec.IncCounter("connect_success", walletLabels(walletType))
	m.log.Info("wallet connected", logger.Fields{
		"wallet":    walletType.String(),
		"principal": principal,
	})
	m.emit(types.Event{Name: types.EventConnected, Wallet: walletType, Principal: principal})

	return principal, nil
}

// Disconnect tears down the active adapter, if any. A second call in a row
// is a warn-level no-op and emits nothing.
func (m *WalletManager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	a := m.active
	m.mu.Unlock()

	if a == nil {
		m.log.Warn("disconnect requested with no active wallet", nil)
		return
	}

	t := a.Type()
	a.Disconnect(ctx)

	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()

	m.rec.IncCounter("disconnect", walletLabels(t))
	m.log.Info("wallet disconnected", logger.Fields{"wallet": t.String()})
	m.emit(types.Event{Name: types.EventDisconnected, Wallet: t})
}

// Transfer delegates to the active adapter. With none active it fails
// before any I/O.
func (m *WalletManager) Transfer(ctx context.Context, req types.TransferRequest) (uint64, error) {
	m.mu.Lock()
	a := m.active
	m.mu.Unlock()

	if a == nil {
		return 0, types.NewPaymentError(types.ErrNotConnected, "no wallet connected")
	}

	t := a.Type()
	if err := req.Validate(); err != nil {
		return 0, types.WrapPaymentError(types.ErrConfig, err, "invalid transfer request")
	}

	start := time.Now()
	height, err := a.Transfer(ctx, req)
	m.rec.ObserveLatency("wallet_transfer", time.Since(start), walletLabels(t))

	if err != nil {
		m.rec.IncCounter("transfer_failure", walletLabels(t))
		if types.IsUserRejected(err) {
			m.log.Info("transfer declined", logger.Fields{"wallet": t.String()})
		} else {
			m.log.Error("transfer failed", logger.Fields{
				"wallet": t.String(),
				"token":  req.Token,
				"error":  err.Error(),
			})
		}
		m.emit(types.Event{Name: types.EventError, Wallet: t, Action: "transfer", Err: err})
		return 0, err
	}

	m.rec.IncCounter("transfer_success", walletLabels(t))
	m.log.Info("transfer committed", logger.Fields{
		"wallet":     t.String(),
		"token":      req.Token,
		"blockIndex": height,
	})
	m.emit(types.Event{Name: types.EventTransfer, Wallet: t, BlockIndex: height, Request: &req})

	return height, nil
}

// Balance reads the active wallet's balance, 0 when none is active.
func (m *WalletManager) Balance(ctx context.Context, ledgerID, token string) uint64 {
	if a := m.activeAdapter(); a != nil {
		return a.Balance(ctx, ledgerID, token)
	}
	return 0
}

func (m *WalletManager) Principal() string {
	if a := m.activeAdapter(); a != nil {
		return a.Principal()
	}
	return ""
}

func (m *WalletManager) IsConnected() bool {
	if a := m.activeAdapter(); a != nil {
		return a.IsConnected()
	}
	return false
}

// ActiveWalletType returns the active wallet's tag, "" when none.
func (m *WalletManager) ActiveWalletType() types.WalletType {
	if a := m.activeAdapter(); a != nil {
		return a.Type()
	}
	return ""
}

func (m *WalletManager) activeAdapter() wallets.Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// On registers a listener for one event name and returns a token for Off.
func (m *WalletManager) On(name types.EventName, fn types.Listener) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners[name] = append(m.listeners[name], listenerEntry{id: id, fn: fn})
	return id
}

// Off removes a listener previously registered with On.
func (m *WalletManager) Off(name types.EventName, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.listeners[name]
	for i, e := range entries {
		if e.id == id {
			m.listeners[name] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// emit runs listeners synchronously in registration order, after the state
// change they report. A panicking listener is recovered and logged so the
// rest still run.
func (m *WalletManager) emit(ev types.Event) {
	m.mu.Lock()
	entries := append([]listenerEntry(nil), m.listeners[ev.Name]...)
	m.mu.Unlock()

	for _, e := range entries {
		m.invoke(e, ev)
	}
}

func (m *WalletManager) invoke(e listenerEntry, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("event listener panicked", logger.Fields{
				"event": string(ev.Name),
				"panic": fmt.Sprint(r),
			})
		}
	}()
	e.fn(ev)
}

func walletLabels(t types.WalletType) map[string]string {
	return map[string]string{"wallet": t.String()}
}
