// Package module is the bootstrap registry behind the `module:<name>` CLI
// token: runtime modules (e.g. pkg/proxyref) register a named Bootstrap
// function at init time, and cmd/reactorhttp looks the chosen name up and
// invokes it once the reactor and resolver are constructed; a module
// creates its own listeners in Bootstrap.
// Grounded on original_source/core/module.c's registration table.
package module

import (
	"fmt"
	"sort"
	"sync"

	"github.com/WhileEndless/reactorhttp/pkg/config"
	"github.com/WhileEndless/reactorhttp/pkg/logging"
	"github.com/WhileEndless/reactorhttp/pkg/reactor"
)

// Context is everything a module's Bootstrap needs to wire itself into the
// running reactor.
type Context struct {
	Reactor *reactor.Reactor
	Config  *config.Config
	Logger  *logging.Logger
}

// Bootstrap wires a module into an already-constructed reactor. It returns
// an error if the module cannot start (e.g. a required config value is
// missing).
type Bootstrap func(ctx *Context) error

var (
	mu       sync.RWMutex
	registry = map[string]Bootstrap{}
)

// Register adds a named module to the registry. Intended to be called from
// a module package's init(). Panics on a duplicate name: two modules
// claiming the same `module:<name>` token is a build-time mistake, not a
// runtime condition to recover from.
func Register(name string, b Bootstrap) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("module: duplicate registration for %q", name))
	}
	registry[name] = b
}

// Lookup returns the Bootstrap registered under name, or ok=false.
func Lookup(name string) (Bootstrap, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := registry[name]
	return b, ok
}

// Names returns every registered module name, sorted, for `--help` output
// and error messages.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Run looks up name and invokes it, or returns an error naming the
// available modules if name isn't registered.
func Run(name string, ctx *Context) error {
	b, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("module: no module registered as %q (available: %v)", name, Names())
	}
	return b(ctx)
}
