package pods

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	mu       sync.RWMutex
	registry = map[string]Pod{}
)

func init() {
	Register(ScanPod{})
	Register(ReducePod{})
}

// Register adds p under its name, replacing any pod of the same name.
func Register(p Pod) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Name()] = p
}

// Lookup returns the pod registered under name.
func Lookup(name string) (Pod, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Run executes the named pod.
func Run(ec *ExecContext, name string, in any) (any, error) {
	p, ok := Lookup(name)
	if !ok {
		return nil, errors.Errorf("unknown pod: %s", name)
	}
	out, err := p.Run(ec, in)
	return out, errors.Wrapf(err, "pod %s", name)
}
