package main

import (
	"fmt"

	"github.com/hro-mesh/meshapp/internal/config"
	"github.com/hro-mesh/meshapp/internal/devicetype"
	"github.com/hro-mesh/meshapp/internal/identity"
)

// configPolicy implements identity.PairPolicy from the identity.rules
// config list. The rule set is fixed at startup; changing admission
// policy takes a restart.
type configPolicy struct {
	rules devicetype.RuleSet
}

func newConfigPolicy(cfg config.IdentityConfig) (*configPolicy, error) {
	rules, err := cfg.RuleSet()
	if err != nil {
		return nil, err
	}
	return &configPolicy{rules: rules}, nil
}

func (p *configPolicy) Rules() devicetype.RuleSet {
	return p.rules
}

// configURIProvider implements identity.URIProvider from the uris:
// config list, the declarative stand-in for a compiled-in device
// driver's resource table.
type configURIProvider struct {
	uris []identity.URIDescriptor
}

func newConfigURIProvider(cfgURIs []config.URIConfig) (*configURIProvider, error) {
	out := make([]identity.URIDescriptor, 0, len(cfgURIs))
	for i, u := range cfgURIs {
		typ, err := devicetype.ParseName(u.Type)
		if err != nil {
			return nil, fmt.Errorf("uris[%d]: %w", i, err)
		}
		out = append(out, identity.URIDescriptor{
			Path:         u.Path,
			FunctionType: typ,
			Observable:   u.Observable,
		})
	}
	return &configURIProvider{uris: out}, nil
}

func (p *configURIProvider) URIs() []identity.URIDescriptor {
	return p.uris
}
