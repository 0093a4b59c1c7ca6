// Package module defines the pluggable handler contract modules implement and
// the registry the dispatcher consults to route commands and events to them.
package module

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/store"
)

// Module is a pluggable handler, polymorphic over commands and events.
type Module interface {
	Name() string
	Description() string
	// Commands lists the words (without prefix) that route to HandleCommand.
	Commands() []string
	Scope() meshmsg.CommandScope

	HandleCommand(ctx context.Context, command, args string, msgCtx meshmsg.MessageContext, st *store.Store) ([]meshmsg.Response, error)

	// HandleEvent reacts to a MeshEvent. The default (embed EventlessModule)
	// returns (nil, nil) for modules that don't care about events.
	HandleEvent(ctx context.Context, event meshmsg.MeshEvent, st *store.Store) ([]meshmsg.Response, error)
}

// EventlessModule can be embedded by modules that only handle commands.
type EventlessModule struct{}

func (EventlessModule) HandleEvent(context.Context, meshmsg.MeshEvent, *store.Store) ([]meshmsg.Response, error) {
	return nil, nil
}

// Registry holds an ordered set of modules and indexes them by command for
// O(1)-ish dispatch lookup.
type Registry struct {
	modules []Module
	byCmd   map[string]Module
	logger  *log.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		byCmd:  make(map[string]Module),
		logger: log.With("component", "module-registry"),
	}
}

// Register appends m to the ordered module list and indexes its commands.
func (r *Registry) Register(m Module) {
	r.logger.Info("registered module", "name", m.Name())
	r.modules = append(r.modules, m)
	for _, cmd := range m.Commands() {
		r.byCmd[cmd] = m
	}
}

// FindByCommand looks up the module that owns command, if any.
func (r *Registry) FindByCommand(command string) (Module, bool) {
	m, ok := r.byCmd[command]
	return m, ok
}

// All returns every registered module, in registration order.
func (r *Registry) All() []Module {
	return r.modules
}
