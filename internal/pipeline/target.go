package pipeline

import (
	"sort"

	"github.com/ajitpratap0/rsloader/internal/warehouse"
	"github.com/ajitpratap0/rsloader/pkg/config"
	"github.com/ajitpratap0/rsloader/pkg/schema"
)

// Targets maps stream ids to target tables and target schemas to grantees.
type Targets struct {
	cfg config.TargetConfig
	// ForceSchema, when set, overrides every resolved schema
	ForceSchema string
}

// NewTargets creates a resolver over the target configuration.
func NewTargets(cfg config.TargetConfig) *Targets {
	return &Targets{cfg: cfg}
}

// Resolve maps a stream id of the form [catalog-]schema-table to its table.
// Streams without a schema go to the default schema.
func (t *Targets) Resolve(stream string) (schema.TableRef, error) {
	name, err := schema.ParseStreamName(stream)
	if err != nil {
		return schema.TableRef{}, err
	}
	target, _ := t.cfg.SchemaFor(name.Schema)
	if t.ForceSchema != "" {
		target = t.ForceSchema
	}
	return schema.TableRef{Schema: target, Name: schema.NormalizeTableName(name.Table)}, nil
}

// Grantees returns who gets USAGE and SELECT in a target schema.
func (t *Targets) Grantees(targetSchema string) warehouse.Grantees {
	var g config.Grants
	if targetSchema == t.cfg.DefaultSchema {
		g = t.cfg.DefaultGrants
	}
	for _, m := range t.cfg.SchemaMapping {
		if m.TargetSchema == targetSchema {
			g.Users = append(g.Users, m.Grants.Users...)
			g.Groups = append(g.Groups, m.Grants.Groups...)
		}
	}
	return warehouse.Grantees{Users: dedupe(g.Users), Groups: dedupe(g.Groups)}
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
