package config

import (
	"strconv"
	"strings"
	"sync"

	"github.com/st-keller/quakefeed-client/request"
	"github.com/st-keller/quakefeed-client/types"
)

// Preference keys passed to change listeners.
const (
	KeyMinMagnitude = "min_magnitude"
	KeyOrderBy      = "order_by"
)

// Preferences is the live, mutable query configuration. It implements
// types.ConfigProvider and notifies listeners after a value changes.
type Preferences struct {
	mu           sync.RWMutex
	minMagnitude string
	orderBy      string
	listeners    []func(key string)
}

// NewPreferences seeds the preferences from cfg.
func NewPreferences(cfg Config) *Preferences {
	return &Preferences{
		minMagnitude: cfg.MinMagnitude,
		orderBy:      cfg.OrderBy,
	}
}

// MinMagnitude implements types.ConfigProvider.
func (p *Preferences) MinMagnitude() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minMagnitude
}

// OrderBy implements types.ConfigProvider.
func (p *Preferences) OrderBy() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.orderBy
}

// Params returns a consistent snapshot of both values as request params.
func (p *Preferences) Params() request.Params {
	p.mu.RLock()
	snapshot := types.StaticConfig{MinMag: p.minMagnitude, Order: p.orderBy}
	p.mu.RUnlock()
	return request.ParamsFrom(snapshot)
}

// SetMinMagnitude validates and stores v. Listeners run only if the value changed.
func (p *Preferences) SetMinMagnitude(v string) error {
	v = strings.TrimSpace(v)
	if _, err := strconv.ParseFloat(v, 64); err != nil {
		return &InvalidValueError{Key: KeyMinMagnitude, Value: v}
	}
	p.set(KeyMinMagnitude, v, &p.minMagnitude)
	return nil
}

// SetOrderBy validates and stores v. Listeners run only if the value changed.
func (p *Preferences) SetOrderBy(v string) error {
	o, err := request.ParseOrderBy(strings.TrimSpace(v))
	if err != nil {
		return &InvalidValueError{Key: KeyOrderBy, Value: v}
	}
	p.set(KeyOrderBy, string(o), &p.orderBy)
	return nil
}

func (p *Preferences) set(key, v string, dst *string) {
	p.mu.Lock()
	if *dst == v {
		p.mu.Unlock()
		return
	}
	*dst = v
	listeners := make([]func(string), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(key)
	}
}

// OnChange registers fn to be called with the key of every changed preference.
func (p *Preferences) OnChange(fn func(key string)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// InvalidValueError is returned by the setters for a value the feed would reject.
type InvalidValueError struct {
	Key   string
	Value string
}

func (e *InvalidValueError) Error() string {
	return "config: invalid " + e.Key + " " + strconv.Quote(e.Value)
}
