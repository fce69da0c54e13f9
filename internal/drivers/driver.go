// internal/drivers/driver.go - device driver contract and type registry
package drivers

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"monite/internal/config"
	"monite/internal/database"
)

// Router families
const (
	TypeMikroTikREST = "MIKROTIK_ROUTEROS_REST"
	TypeOpenWrtSSH   = "TPLINK_OPENWRT_SSH"
)

// Action keys
const (
	ActionTopupBalance = "TOPUP_BALANCE"
	ActionQueryBalance = "QUERY_BALANCE"
	ActionReadUSSDLogs = "READ_USSD_LOGS"
)

// Keys drivers place in Result.Parsed when the router reports account telemetry.
const (
	KeyDataRemainingMb     = "data_remaining_mb"
	KeyDaysValid           = "days_valid"
	KeyAccountBalance      = "account_balance"
	KeyInsufficientBalance = "insufficient_balance"
)

// Result is what a driver hands back for a successful action.
type Result struct {
	Raw    string                 `json:"raw"`
	Parsed map[string]interface{} `json:"parsed,omitempty"`
}

// Driver speaks one router family's control protocol.
type Driver interface {
	ExecuteAction(ctx context.Context, host *database.Host, actionKey string, params map[string]interface{}) (*Result, error)
	Validate(ctx context.Context, host *database.Host) error
	SupportedActions() []string
}

// Factory builds a driver instance.
type Factory func() Driver

// Registry resolves drivers by normalized router type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry registers every built-in router family.
func NewDefaultRegistry(cfg config.DriversConfig) *Registry {
	r := NewRegistry()

	mikrotik := NewMikroTikDriver(cfg.MikroTik)
	openwrt := NewOpenWrtDriver(cfg.OpenWrt)

	r.Register(TypeMikroTikREST, func() Driver { return mikrotik })
	r.Register(TypeOpenWrtSSH, func() Driver { return openwrt })
	return r
}

func (r *Registry) Register(routerType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[NormalizeType(routerType)] = factory
}

// Resolve returns the driver for routerType or an unknown-driver DriverError.
func (r *Registry) Resolve(routerType string) (Driver, error) {
	r.mu.RLock()
	factory, ok := r.factories[NormalizeType(routerType)]
	r.mu.RUnlock()

	if !ok {
		return nil, &DriverError{
			Kind: KindUnknownDriver,
			Op:   "resolve",
			Err:  fmt.Errorf("no driver registered for router type %q", routerType),
		}
	}
	return factory(), nil
}

// ForHost resolves the driver for a host's router type.
func (r *Registry) ForHost(host *database.Host) (Driver, error) {
	return r.Resolve(host.RouterType)
}

// Types lists registered router types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// NormalizeType canonicalizes router type tags, e.g. "mikrotik-routeros-rest".
func NormalizeType(routerType string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(routerType), "-", "_"))
}

// NormalizeAction canonicalizes action keys the same way as router types.
func NormalizeAction(actionKey string) string {
	return NormalizeType(actionKey)
}

// Supports reports whether d advertises actionKey.
func Supports(d Driver, actionKey string) bool {
	key := NormalizeAction(actionKey)
	for _, a := range d.SupportedActions() {
		if a == key {
			return true
		}
	}
	return false
}

func intParam(params map[string]interface{}, key string, def int) int {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}

	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}
