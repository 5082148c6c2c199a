package model

// Entity is the interface the cache layer stores. Every cached type hands
// out deep copies via CloneEntity so the single-writer loop stays the only
// holder of the live value.
type Entity interface {
	CloneEntity() Entity
}

func (r *Run) CloneEntity() Entity          { return r.Clone() }
func (o *Orders) CloneEntity() Entity       { return o.Clone() }
func (d *Distribution) CloneEntity() Entity { return d.Clone() }
func (g *GroupRuns) CloneEntity() Entity    { return g.Clone() }
