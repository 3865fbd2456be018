package hydro

import (
	"fmt"

	"basin/internal/domain"
	"basin/internal/lp"
)

// m3PerSecondToMm3 converts a flow held for one hour into million m3.
const m3PerSecondToMm3 = 3600.0 / 1e6

// BuildOptions carries the tunable policy inputs of constraint assembly.
// Everything physical comes from the network itself.
type BuildOptions struct {
	// SpillPenalty is the default cost in $/m3 of spillway flow originating
	// at non-sink nodes. Per-connection overrides come from the inputs.
	SpillPenalty float64
	// FinalVolumeFraction sets the default final-volume floor as a fraction
	// of maximum volume when no explicit target is configured.
	FinalVolumeFraction float64
	// Balance, when set, receives the per-project power and pump-load terms.
	Balance BalanceSink
}

// Build is the assembled constraint set plus the bookkeeping needed to map
// solved values back onto entities.
type Build struct {
	Problem *lp.Problem
	Network *Network
}

// BuildProblem walks the network and the timeseries once, in declaration
// order, and emits every decision variable and constraint of the hydraulic
// subsystem. Re-running on identical inputs yields an identical problem.
func BuildProblem(net *Network, opts BuildOptions) (*Build, error) {
	p := lp.NewProblem("hydro")
	b := &Build{Problem: p, Network: net}

	// Dispatch flow per connection and timepoint.
	for _, c := range net.Connections {
		for _, ts := range net.Timeseries {
			for _, tp := range ts.Timepoints {
				if err := p.AddVar(FlowVar(c.ID, tp.ID), net.MinFlow(c.ID, tp.ID), c.MaxFlow); err != nil {
					return nil, err
				}
			}
		}
	}
	// Reverse pumped flow per pump-capable project and timepoint.
	for _, proj := range net.Projects {
		if !proj.CanPump {
			continue
		}
		for _, ts := range net.Timeseries {
			for _, tp := range ts.Timepoints {
				if err := p.AddVar(PumpVar(proj.ID, tp.ID), 0, proj.PumpCapacity); err != nil {
					return nil, err
				}
			}
		}
	}
	// End-of-timepoint reservoir volume, plus a free starting stock when the
	// initial policy does not pin one.
	for _, r := range net.Reservoirs {
		for _, ts := range net.Timeseries {
			if _, pinned := pinnedInitial(net, r, ts.Name); !pinned {
				if err := p.AddVar(StartVar(r.ID, ts.Name), r.MinVolume, r.MaxVolume); err != nil {
					return nil, err
				}
			}
			for _, tp := range ts.Timepoints {
				if err := p.AddVar(VolumeVar(r.ID, tp.ID), r.MinVolume, r.MaxVolume); err != nil {
					return nil, err
				}
			}
		}
	}

	// Total connection throughput, turbined plus pumped, stays within the
	// physical capacity.
	for _, c := range net.Connections {
		pump, ok := pumpProjectOn(net, c.ID)
		if !ok {
			continue
		}
		for _, ts := range net.Timeseries {
			for _, tp := range ts.Timepoints {
				var expr lp.Expr
				expr.Add(1, FlowVar(c.ID, tp.ID))
				expr.Add(1, PumpVar(pump.ID, tp.ID))
				err := p.AddConstraint(lp.Constraint{
					Name:  fmt.Sprintf("cap.%s.%s", c.ID, tp.ID),
					Expr:  expr,
					Sense: lp.LE,
					RHS:   c.MaxFlow,
				})
				if err != nil {
					return nil, err
				}
			}
		}
	}

	// Conservation of mass at every node and timepoint.
	for _, ts := range net.Timeseries {
		for j, tp := range ts.Timepoints {
			for _, node := range net.Nodes {
				if err := b.nodeBalance(node, ts, j, tp); err != nil {
					return nil, err
				}
			}
		}
	}

	// Final-volume floor per reservoir and timeseries.
	for _, r := range net.Reservoirs {
		for _, ts := range net.Timeseries {
			last := ts.Timepoints[len(ts.Timepoints)-1]
			var expr lp.Expr
			expr.Add(1, VolumeVar(r.ID, last.ID))
			err := p.AddConstraint(lp.Constraint{
				Name:  fmt.Sprintf("final.%s.%s", r.ID, ts.Name),
				Expr:  expr,
				Sense: lp.GE,
				RHS:   finalTarget(net, r, ts.Name, opts.FinalVolumeFraction),
			})
			if err != nil {
				return nil, err
			}
		}
	}

	// Spill penalty cost terms, charged per m3 over the timepoint duration.
	for _, c := range net.Connections {
		if !c.IsSpillway {
			continue
		}
		from := net.Nodes[net.nodeIdx[c.FromNode]]
		if from.IsSink {
			continue
		}
		penalty := opts.SpillPenalty
		if v, ok := net.SpillPenaltyOverride(c.ID); ok {
			penalty = v
		}
		if penalty == 0 {
			continue
		}
		for _, ts := range net.Timeseries {
			for _, tp := range ts.Timepoints {
				p.AddCost(penalty*3600*tp.DurationHrs, FlowVar(c.ID, tp.ID))
			}
		}
	}

	// Register power output and pump load with the dispatch collaborator.
	if opts.Balance != nil {
		for _, proj := range net.Projects {
			for _, ts := range net.Timeseries {
				for _, tp := range ts.Timepoints {
					opts.Balance.AddSupply(proj.LoadZone, tp.ID, proj.Efficiency, FlowVar(proj.ConnectionID, tp.ID))
					if proj.CanPump {
						opts.Balance.AddLoad(proj.LoadZone, tp.ID, proj.Efficiency/proj.RoundTrip, PumpVar(proj.ID, tp.ID))
					}
				}
			}
		}
	}

	return b, nil
}

// nodeBalance emits the mass-balance row for one node and timepoint. Chain
// nodes use the instantaneous series equality; reservoir nodes carry the
// volume recurrence; sink nodes may let water leave the basin.
func (b *Build) nodeBalance(node domain.WaterNode, ts Timeseries, j int, tp domain.Timepoint) error {
	net := b.Network
	var expr lp.Expr

	if link, ok := net.chainNode[node.ID]; ok {
		// Series coupling: the water leaving equals the water arriving within
		// the same timepoint, less spill taken at this node.
		in := net.Connections[link.in]
		out := net.Connections[link.out]
		expr.Add(1, FlowVar(in.ID, tp.ID))
		expr.Add(-1, FlowVar(out.ID, tp.ID))
		for _, si := range link.spillOut {
			expr.Add(-1, FlowVar(net.Connections[si].ID, tp.ID))
		}
		b.addPumpTerms(&expr, node.ID, tp.ID)
		return b.Problem.AddConstraint(lp.Constraint{
			Name:  fmt.Sprintf("series.%s.%s", node.ID, tp.ID),
			Expr:  expr,
			Sense: lp.EQ,
			RHS:   net.Consumption(node.ID, tp.ID) - net.Inflow(node.ID, tp.ID),
		})
	}

	for _, ci := range net.inbound[node.ID] {
		c := net.Connections[ci]
		arrival := tp.ID
		if !net.hasReservoirEndpoint(c) && j > 0 {
			// One-timepoint transit delay on reservoir-less reaches. The
			// first timepoint of a timeseries assumes steady pre-horizon
			// flow, so it receives its own timepoint's value.
			arrival = ts.Timepoints[j-1].ID
		}
		expr.Add(1, FlowVar(c.ID, arrival))
	}
	for _, ci := range net.outbound[node.ID] {
		expr.Add(-1, FlowVar(net.Connections[ci].ID, tp.ID))
	}
	b.addPumpTerms(&expr, node.ID, tp.ID)

	sense := lp.EQ
	if node.IsSink {
		// Sinks are the edge of the modeled basin: arriving water may leave
		// the system, so conservation relaxes to an inequality.
		sense = lp.GE
	}

	if r, ok := net.ReservoirAt(node.ID); ok {
		// Net inflow feeds storage: in - out == (vol[t] - vol[t-1]) / dt.
		k := 1.0 / (tp.DurationHrs * m3PerSecondToMm3)
		expr.Add(-k, VolumeVar(r.ID, tp.ID))
		if j > 0 {
			expr.Add(k, VolumeVar(r.ID, ts.Timepoints[j-1].ID))
		} else if init, pinned := pinnedInitial(net, r, ts.Name); pinned {
			expr.Const += k * init
		} else {
			expr.Add(k, StartVar(r.ID, ts.Name))
		}
	}

	return b.Problem.AddConstraint(lp.Constraint{
		Name:  fmt.Sprintf("balance.%s.%s", node.ID, tp.ID),
		Expr:  expr,
		Sense: sense,
		RHS:   net.Consumption(node.ID, tp.ID) - net.Inflow(node.ID, tp.ID),
	})
}

// addPumpTerms adds the reverse pumped flows touching a node: pumping on an
// outbound connection returns water here, pumping on an inbound connection
// draws it back upstream. Pump terms enter both endpoint balances at the
// pumping timepoint. A pump-capable connection has a reservoir at each end,
// so its forward flow is instantaneous too and the two directions stay on the
// same clock.
func (b *Build) addPumpTerms(expr *lp.Expr, nodeID, tpID string) {
	net := b.Network
	for _, ci := range net.outbound[nodeID] {
		if proj, ok := pumpProjectOn(net, net.Connections[ci].ID); ok {
			expr.Add(1, PumpVar(proj.ID, tpID))
		}
	}
	for _, ci := range net.inbound[nodeID] {
		if proj, ok := pumpProjectOn(net, net.Connections[ci].ID); ok {
			expr.Add(-1, PumpVar(proj.ID, tpID))
		}
	}
}

func pumpProjectOn(net *Network, connID string) (domain.HydroProject, bool) {
	proj, ok := net.ProjectOn(connID)
	if !ok || !proj.CanPump {
		return domain.HydroProject{}, false
	}
	return proj, true
}

func pinnedInitial(net *Network, r domain.Reservoir, ts string) (float64, bool) {
	if b, ok := net.Boundary(r.ID, ts); ok && b.InitialVolume != nil {
		return *b.InitialVolume, true
	}
	return 0, false
}

// finalTarget resolves the final-volume floor: explicit target, else the
// pinned initial value, else the configured fraction of maximum volume.
func finalTarget(net *Network, r domain.Reservoir, ts string, fraction float64) float64 {
	if b, ok := net.Boundary(r.ID, ts); ok {
		if b.FinalVolume != nil {
			return *b.FinalVolume
		}
		if b.InitialVolume != nil {
			return *b.InitialVolume
		}
	}
	target := fraction * r.MaxVolume
	if target < r.MinVolume {
		target = r.MinVolume
	}
	return target
}

// FlowVar names the dispatch-flow variable of a connection at a timepoint.
func FlowVar(connID, tpID string) string { return "flow." + connID + "." + tpID }

// PumpVar names the reverse pumped flow of a project at a timepoint.
func PumpVar(projID, tpID string) string { return "pump." + projID + "." + tpID }

// VolumeVar names the end-of-timepoint volume of a reservoir.
func VolumeVar(resID, tpID string) string { return "vol." + resID + "." + tpID }

// StartVar names the free pre-horizon stock of a reservoir in a timeseries.
func StartVar(resID, ts string) string { return "start." + resID + "." + ts }

// Results maps a solved point back onto per-entity, per-timepoint values for
// reporting: flow and spill per connection, volume per reservoir, power and
// pump load per project.
func (b *Build) Results(runID string, pt lp.Point) []domain.ResultValue {
	net := b.Network
	var out []domain.ResultValue
	add := func(kind, entity, tpID string, v float64) {
		out = append(out, domain.ResultValue{RunID: runID, Kind: kind, EntityID: entity, TimepointID: tpID, Value: v})
	}
	for _, c := range net.Connections {
		kind := "flow"
		if c.IsSpillway {
			kind = "spill"
		}
		for _, ts := range net.Timeseries {
			for _, tp := range ts.Timepoints {
				add(kind, c.ID, tp.ID, pt[FlowVar(c.ID, tp.ID)])
			}
		}
	}
	for _, r := range net.Reservoirs {
		for _, ts := range net.Timeseries {
			for _, tp := range ts.Timepoints {
				add("volume", r.ID, tp.ID, pt[VolumeVar(r.ID, tp.ID)])
			}
		}
	}
	for _, proj := range net.Projects {
		for _, ts := range net.Timeseries {
			for _, tp := range ts.Timepoints {
				add("power", proj.ID, tp.ID, proj.Efficiency*pt[FlowVar(proj.ConnectionID, tp.ID)])
				if proj.CanPump {
					pump := pt[PumpVar(proj.ID, tp.ID)]
					add("pump", proj.ID, tp.ID, pump)
					add("pump_load", proj.ID, tp.ID, pump*proj.Efficiency/proj.RoundTrip)
				}
			}
		}
	}
	return out
}
