package channels

import (
	"fmt"
	"sort"

	"channel_sync/config"
	"channel_sync/models"
)

// Registry maps channel ids to adapters. It is built once at startup and
// read concurrently afterwards.
type Registry struct {
	adapters map[models.ChannelID]Adapter
}

func NewRegistry(cfg *config.Config) *Registry {
	var chCfg func(models.ChannelID) *config.ChannelConfig
	if cfg != nil {
		chCfg = cfg.Channel
	} else {
		chCfg = func(models.ChannelID) *config.ChannelConfig { return nil }
	}

	r := &Registry{adapters: make(map[models.ChannelID]Adapter)}
	r.Register(NewAirbnb(chCfg(models.ChannelAirbnb)))
	r.Register(NewBookingCom(chCfg(models.ChannelBooking)))
	r.Register(NewVRBO(chCfg(models.ChannelVRBO)))
	r.Register(NewExpedia(chCfg(models.ChannelExpedia)))
	r.Register(NewAgoda(chCfg(models.ChannelAgoda)))
	return r
}

// Register adds or replaces the adapter for a.ID(). Call it before the
// registry is shared.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.ID()] = a
}

func (r *Registry) Get(id models.ChannelID) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", id)
	}
	return a, nil
}

// All returns adapters sorted by id.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Identify returns the first adapter whose sender and subject patterns
// both match, or nil.
func (r *Registry) Identify(from, subject string) Adapter {
	for _, a := range r.All() {
		if a.Identify(from, subject) {
			return a
		}
	}
	return nil
}
