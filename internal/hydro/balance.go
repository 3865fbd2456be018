package hydro

// BalanceSink receives the hydro subsystem's contributions to the
// system-wide energy balance. The dispatch collaborator owns the balance
// constraint itself; the only assumption made here is that contributions are
// summable per load zone and timepoint. Terms reference problem variables,
// so the collaborator can splice them into its own rows.
type BalanceSink interface {
	// AddSupply registers coef*variable MW of production.
	AddSupply(zone, timepointID string, coef float64, variable string)
	// AddLoad registers coef*variable MW of consumption.
	AddLoad(zone, timepointID string, coef float64, variable string)
}

// BalanceTerm is one recorded contribution.
type BalanceTerm struct {
	Coef     float64
	Variable string
}

// BalanceRecorder is a BalanceSink that accumulates terms in memory. It
// backs reporting and tests; a real dispatch model would implement
// BalanceSink directly.
type BalanceRecorder struct {
	Supply map[ZoneTP][]BalanceTerm
	Load   map[ZoneTP][]BalanceTerm
}

type ZoneTP struct {
	Zone        string
	TimepointID string
}

func NewBalanceRecorder() *BalanceRecorder {
	return &BalanceRecorder{
		Supply: map[ZoneTP][]BalanceTerm{},
		Load:   map[ZoneTP][]BalanceTerm{},
	}
}

func (b *BalanceRecorder) AddSupply(zone, tpID string, coef float64, variable string) {
	key := ZoneTP{zone, tpID}
	b.Supply[key] = append(b.Supply[key], BalanceTerm{coef, variable})
}

func (b *BalanceRecorder) AddLoad(zone, tpID string, coef float64, variable string) {
	key := ZoneTP{zone, tpID}
	b.Load[key] = append(b.Load[key], BalanceTerm{coef, variable})
}

// NetPower evaluates supply minus load for a zone and timepoint at a point.
func (b *BalanceRecorder) NetPower(zone, tpID string, pt map[string]float64) float64 {
	key := ZoneTP{zone, tpID}
	var v float64
	for _, t := range b.Supply[key] {
		v += t.Coef * pt[t.Variable]
	}
	for _, t := range b.Load[key] {
		v -= t.Coef * pt[t.Variable]
	}
	return v
}
