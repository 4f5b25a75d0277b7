package idp

import (
	"fmt"

	"idbroker/internal/account"
)

// structureAliases maps legacy structure names onto the canonical structure
// whose upstream population they share. The France Travail dispositifs (BRSA,
// AIJ, accompagnement intensif/global, équipes emploi-recrut) all authenticate
// against the Pôle Emploi realm; AVENIR_PRO rides the Mission Locale provider.
var structureAliases = map[account.UserStructure]account.UserStructure{
	account.StructurePoleEmploiBRSA:           account.StructurePoleEmploi,
	account.StructurePoleEmploiAIJ:            account.StructurePoleEmploi,
	account.StructureFTAccompagnementIntensif: account.StructurePoleEmploi,
	account.StructureFTAccompagnementGlobal:   account.StructurePoleEmploi,
	account.StructureFTEquipEmploiRecrut:      account.StructurePoleEmploi,
	account.StructureAvenirPro:                account.StructureMilo,
}

// SupportedKeys is the full cross-product of populations the broker federates.
// Router construction fails unless every entry resolves to a config, so an
// unmapped combination is a startup error rather than a request-time surprise.
var SupportedKeys = []Key{
	{Type: account.TypeJeune, Structure: account.StructureMilo},
	{Type: account.TypeJeune, Structure: account.StructurePoleEmploi},
	{Type: account.TypeJeune, Structure: account.StructurePoleEmploiBRSA},
	{Type: account.TypeJeune, Structure: account.StructurePoleEmploiAIJ},
	{Type: account.TypeJeune, Structure: account.StructureAvenirPro},
	{Type: account.TypeJeune, Structure: account.StructureFTAccompagnementIntensif},
	{Type: account.TypeJeune, Structure: account.StructureFTAccompagnementGlobal},
	{Type: account.TypeJeune, Structure: account.StructureFTEquipEmploiRecrut},
	{Type: account.TypeConseiller, Structure: account.StructureMilo},
	{Type: account.TypeConseiller, Structure: account.StructurePoleEmploi},
	{Type: account.TypeConseiller, Structure: account.StructurePoleEmploiBRSA},
	{Type: account.TypeConseiller, Structure: account.StructurePoleEmploiAIJ},
	{Type: account.TypeConseiller, Structure: account.StructureConseilDept},
	{Type: account.TypeConseiller, Structure: account.StructureFTAccompagnementIntensif},
	{Type: account.TypeConseiller, Structure: account.StructureFTAccompagnementGlobal},
	{Type: account.TypeConseiller, Structure: account.StructureFTEquipEmploiRecrut},
}

// Canonical resolves legacy structure aliases to the structure that owns the
// upstream provider configuration.
func Canonical(s account.UserStructure) account.UserStructure {
	if c, ok := structureAliases[s]; ok {
		return c
	}
	return s
}

// Router is the total function from (type, structure) to an upstream client
// configuration.
type Router struct {
	routes map[Key]*Config
}

// NewRouter validates that every supported key resolves and returns the
// router. Routes are keyed by canonical structure; aliased structures need no
// entry of their own.
func NewRouter(routes map[Key]*Config) (*Router, error) {
	r := &Router{routes: routes}
	for _, k := range SupportedKeys {
		cfg, err := r.Resolve(k.Type, k.Structure)
		if err != nil {
			return nil, err
		}
		if cfg.Issuer == "" || cfg.ClientID == "" {
			return nil, fmt.Errorf("idp: incomplete configuration for %s", k)
		}
	}
	return r, nil
}

// Keys returns the canonical population keys the router has routes for.
func (r *Router) Keys() []Key {
	keys := make([]Key, 0, len(r.routes))
	for k := range r.routes {
		keys = append(keys, k)
	}
	return keys
}

// Resolve returns the provider configuration for the given population.
func (r *Router) Resolve(t account.UserType, s account.UserStructure) (*Config, error) {
	key := Key{Type: t, Structure: Canonical(s)}
	cfg, ok := r.routes[key]
	if !ok {
		return nil, fmt.Errorf("idp: no provider configured for %s", Key{Type: t, Structure: s})
	}
	return cfg, nil
}

// LogoutURL returns the front-channel logout URL for the population, empty
// when the provider has none.
func (r *Router) LogoutURL(t account.UserType, s account.UserStructure) string {
	cfg, err := r.Resolve(t, s)
	if err != nil {
		return ""
	}
	return cfg.LogoutURL
}
