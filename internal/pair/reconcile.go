package pair

import (
	"github.com/hro-mesh/meshapp/internal/config"
)

// Reconcile enqueues the administrator-pinned `pairs:` config list
// so startup and a SIGHUP reload seed
// the pair worker independently of DNS discovery. Config validation
// already rejected unparsable addresses and duplicate keys
// (config.Validate), so Enqueue is the only failure mode here, and a
// dropped item is logged and forgotten.
func (r *Registry) Reconcile(pairs []config.PairConfig) {
	for _, p := range pairs {
		addr, err := p.IPAddr()
		if err != nil {
			r.logger.Warn("skipping unparsable declarative pair", "name", p.Name, "error", err)
			continue
		}
		_ = r.Enqueue(p.Name, addr)
	}
}
