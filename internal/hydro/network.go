// Package hydro models the hydraulic network that couples water flow to
// electric dispatch: water nodes and connections, reservoir state across a
// timeseries, turbine and pumped-storage conversion, and the series coupling
// of generators that share the same water. The package validates the static
// topology once, then assembles explicit linear constraint records for an
// external solver.
package hydro

import (
	"fmt"

	"basin/internal/domain"
	"basin/internal/inputs"
)

// Timeseries is an ordered, non-wrapping block of timepoints over which
// reservoir state is tracked. Distinct timeseries are decoupled except
// through their boundary policies.
type Timeseries struct {
	Name       string
	Timepoints []domain.Timepoint
}

// Chain is a maximal run of generator-bearing connections with no reservoir
// at the intermediate nodes. The same water passes every turbine of the
// chain within a timepoint, less any spill taken at the shared nodes.
type Chain struct {
	Connections []string `json:"connections"`
	// Nodes are the shared intermediate nodes, len(Connections)-1 of them.
	Nodes []string `json:"nodes"`
}

// Network is the validated static topology. Built once per scenario and
// never mutated afterward.
type Network struct {
	Nodes       []domain.WaterNode
	Connections []domain.WaterConnection
	Reservoirs  []domain.Reservoir
	Projects    []domain.HydroProject
	Timeseries  []Timeseries
	Chains      []Chain

	nodeIdx   map[string]int
	connIdx   map[string]int
	resIdx    map[string]int
	resByNode map[string]int
	projIdx   map[string]int

	inbound    map[string][]int // node -> connection indices, file order
	outbound   map[string][]int
	projByConn map[string]int // connection -> project index

	chainNode map[string]*chainLink // intermediate chain nodes

	inflow      map[flowKey]float64
	consumption map[flowKey]float64
	boundary    map[boundaryKey]domain.ReservoirTS
	ecoMin      map[connKey]float64
	penalty     map[string]float64
}

type flowKey struct{ node, tp string }

type connKey struct{ conn, tp string }

type boundaryKey struct{ res, ts string }

// chainLink records, for an intermediate chain node, its single upstream and
// downstream generator connections and any spillway connections leaving it.
type chainLink struct {
	node     string
	in       int
	out      int
	spillOut []int
}

// NewNetwork validates the loaded scenario and builds the topology indexes.
// All malformed references fail here, before any optimization variable is
// created.
func NewNetwork(s *inputs.Scenario) (*Network, error) {
	n := &Network{
		Nodes:       s.Nodes,
		Connections: s.Connections,
		Reservoirs:  s.Reservoirs,
		Projects:    s.Projects,
		nodeIdx:     map[string]int{},
		connIdx:     map[string]int{},
		resIdx:      map[string]int{},
		resByNode:   map[string]int{},
		projIdx:     map[string]int{},
		inbound:     map[string][]int{},
		outbound:    map[string][]int{},
		projByConn:  map[string]int{},
		chainNode:   map[string]*chainLink{},
		inflow:      map[flowKey]float64{},
		consumption: map[flowKey]float64{},
		boundary:    map[boundaryKey]domain.ReservoirTS{},
		ecoMin:      map[connKey]float64{},
		penalty:     map[string]float64{},
	}

	for i, node := range s.Nodes {
		n.nodeIdx[node.ID] = i
	}
	for i, c := range s.Connections {
		if _, ok := n.nodeIdx[c.FromNode]; !ok {
			return nil, fmt.Errorf("water connection %s references unknown node %s", c.ID, c.FromNode)
		}
		if _, ok := n.nodeIdx[c.ToNode]; !ok {
			return nil, fmt.Errorf("water connection %s references unknown node %s", c.ID, c.ToNode)
		}
		if c.FromNode == c.ToNode {
			return nil, fmt.Errorf("water connection %s loops on node %s", c.ID, c.FromNode)
		}
		if c.MinFlow < 0 {
			return nil, fmt.Errorf("water connection %s has negative minimum flow %g", c.ID, c.MinFlow)
		}
		if c.MinFlow > c.MaxFlow {
			return nil, fmt.Errorf("water connection %s has minimum flow %g above maximum %g", c.ID, c.MinFlow, c.MaxFlow)
		}
		n.connIdx[c.ID] = i
		n.outbound[c.FromNode] = append(n.outbound[c.FromNode], i)
		n.inbound[c.ToNode] = append(n.inbound[c.ToNode], i)
	}
	for i, r := range s.Reservoirs {
		if _, ok := n.nodeIdx[r.NodeID]; !ok {
			return nil, fmt.Errorf("reservoir %s references unknown node %s", r.ID, r.NodeID)
		}
		if prev, ok := n.resByNode[r.NodeID]; ok {
			return nil, fmt.Errorf("node %s has two reservoirs: %s and %s", r.NodeID, s.Reservoirs[prev].ID, r.ID)
		}
		if r.MinVolume < 0 {
			return nil, fmt.Errorf("reservoir %s has negative minimum volume %g", r.ID, r.MinVolume)
		}
		if r.MinVolume > r.MaxVolume {
			return nil, fmt.Errorf("reservoir %s has minimum volume %g above maximum %g", r.ID, r.MinVolume, r.MaxVolume)
		}
		n.resIdx[r.ID] = i
		n.resByNode[r.NodeID] = i
	}
	for i, p := range s.Projects {
		ci, ok := n.connIdx[p.ConnectionID]
		if !ok {
			return nil, fmt.Errorf("hydro project %s references unknown connection %s", p.ID, p.ConnectionID)
		}
		if s.Connections[ci].IsSpillway {
			return nil, fmt.Errorf("hydro project %s is attached to spillway connection %s", p.ID, p.ConnectionID)
		}
		if p.LoadZone == "" {
			return nil, fmt.Errorf("hydro project %s has no load zone", p.ID)
		}
		if prev, ok := n.projByConn[p.ConnectionID]; ok {
			return nil, fmt.Errorf("connection %s has two hydro projects: %s and %s", p.ConnectionID, s.Projects[prev].ID, p.ID)
		}
		n.projIdx[p.ID] = i
		n.projByConn[p.ConnectionID] = i
	}

	tsOrder, tsMembers, tpSeen, err := groupTimeseries(s.Timepoints)
	if err != nil {
		return nil, err
	}
	for _, name := range tsOrder {
		n.Timeseries = append(n.Timeseries, Timeseries{Name: name, Timepoints: tsMembers[name]})
	}

	for _, f := range s.NodeFlows {
		if _, ok := n.nodeIdx[f.NodeID]; !ok {
			return nil, fmt.Errorf("water_node_tp_flows references unknown node %s", f.NodeID)
		}
		if !tpSeen[f.TimepointID] {
			return nil, fmt.Errorf("water_node_tp_flows references unknown timepoint %s", f.TimepointID)
		}
		key := flowKey{f.NodeID, f.TimepointID}
		if f.Inflow != nil {
			if *f.Inflow < 0 {
				return nil, fmt.Errorf("node %s has negative inflow override at %s", f.NodeID, f.TimepointID)
			}
			n.inflow[key] = *f.Inflow
		}
		if f.Consumption != nil {
			if *f.Consumption < 0 {
				return nil, fmt.Errorf("node %s has negative consumption override at %s", f.NodeID, f.TimepointID)
			}
			n.consumption[key] = *f.Consumption
		}
	}

	for _, m := range s.EcoFlows {
		ci, ok := n.connIdx[m.ConnectionID]
		if !ok {
			return nil, fmt.Errorf("min_eco_flows references unknown connection %s", m.ConnectionID)
		}
		if !tpSeen[m.TimepointID] {
			return nil, fmt.Errorf("min_eco_flows references unknown timepoint %s", m.TimepointID)
		}
		if m.MinFlow < 0 {
			return nil, fmt.Errorf("connection %s has negative minimum flow %g at %s", m.ConnectionID, m.MinFlow, m.TimepointID)
		}
		if m.MinFlow > s.Connections[ci].MaxFlow {
			return nil, fmt.Errorf("connection %s has minimum flow %g above maximum %g at %s", m.ConnectionID, m.MinFlow, s.Connections[ci].MaxFlow, m.TimepointID)
		}
		n.ecoMin[connKey{m.ConnectionID, m.TimepointID}] = m.MinFlow
	}

	tsKnown := map[string]bool{}
	for _, ts := range n.Timeseries {
		tsKnown[ts.Name] = true
	}
	for _, b := range s.ReservoirTS {
		ri, ok := n.resIdx[b.ReservoirID]
		if !ok {
			return nil, fmt.Errorf("reservoir_ts_data references unknown reservoir %s", b.ReservoirID)
		}
		if !tsKnown[b.Timeseries] {
			return nil, fmt.Errorf("reservoir_ts_data references unknown timeseries %s", b.Timeseries)
		}
		r := s.Reservoirs[ri]
		if b.InitialVolume != nil && (*b.InitialVolume < r.MinVolume || *b.InitialVolume > r.MaxVolume) {
			return nil, fmt.Errorf("reservoir %s initial volume %g outside bounds [%g,%g]", r.ID, *b.InitialVolume, r.MinVolume, r.MaxVolume)
		}
		if b.FinalVolume != nil && (*b.FinalVolume < r.MinVolume || *b.FinalVolume > r.MaxVolume) {
			return nil, fmt.Errorf("reservoir %s final volume %g outside bounds [%g,%g]", r.ID, *b.FinalVolume, r.MinVolume, r.MaxVolume)
		}
		n.boundary[boundaryKey{b.ReservoirID, b.Timeseries}] = b
	}

	for _, p := range s.SpillPenalties {
		ci, ok := n.connIdx[p.ConnectionID]
		if !ok {
			return nil, fmt.Errorf("spillage_penalty references unknown connection %s", p.ConnectionID)
		}
		if !s.Connections[ci].IsSpillway {
			return nil, fmt.Errorf("spillage_penalty references connection %s, which is not a spillway", p.ConnectionID)
		}
		n.penalty[p.ConnectionID] = p.Penalty
	}

	// Cycles make "downstream" and chain discovery ill-defined, and are
	// physically implausible for water, so they are rejected outright.
	if cycle := n.findCycle(); cycle != nil {
		return nil, fmt.Errorf("water network contains a cycle through nodes %v", cycle)
	}

	n.discoverChains()
	return n, nil
}

func groupTimeseries(tps []domain.Timepoint) (order []string, members map[string][]domain.Timepoint, seen map[string]bool, err error) {
	members = map[string][]domain.Timepoint{}
	seen = map[string]bool{}
	closed := map[string]bool{}
	last := ""
	for _, tp := range tps {
		seen[tp.ID] = true
		if tp.Timeseries != last && closed[tp.Timeseries] {
			// Non-contiguous blocks would silently wrap reservoir state.
			return nil, nil, nil, fmt.Errorf("timeseries %s is split by other timepoints; timepoints of a timeseries must be contiguous", tp.Timeseries)
		}
		if _, ok := members[tp.Timeseries]; !ok {
			order = append(order, tp.Timeseries)
		}
		if tp.Timeseries != last && last != "" {
			closed[last] = true
		}
		members[tp.Timeseries] = append(members[tp.Timeseries], tp)
		last = tp.Timeseries
	}
	return order, members, seen, nil
}

// findCycle runs a DFS over the directed connection graph and returns the
// nodes of one cycle, or nil.
func (n *Network) findCycle() []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := map[string]int{}
	var stack []string
	var cycle []string

	var visit func(node string) bool
	visit = func(node string) bool {
		state[node] = inStack
		stack = append(stack, node)
		for _, ci := range n.outbound[node] {
			next := n.Connections[ci].ToNode
			switch state[next] {
			case inStack:
				for i, s := range stack {
					if s == next {
						cycle = append([]string{}, stack[i:]...)
						break
					}
				}
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
		return false
	}

	for _, node := range n.Nodes {
		if state[node.ID] == unvisited {
			if visit(node.ID) {
				return cycle
			}
		}
	}
	return nil
}

// discoverChains finds the maximal series-generator chains by an explicit
// graph walk. A node couples two connections in series when it has no
// reservoir, exactly one inbound connection, exactly one non-spillway
// outbound connection, and both carry hydro projects; additional outbound
// spillways only divert part of the shared flow.
func (n *Network) discoverChains() {
	next := map[int]int{} // connection index -> downstream connection index
	prev := map[int]int{}
	for _, node := range n.Nodes {
		link, ok := n.seriesLink(node.ID)
		if !ok {
			continue
		}
		n.chainNode[node.ID] = link
		next[link.in] = link.out
		prev[link.out] = link.in
	}
	// Walk forward from every chain head, in connection file order.
	for ci := range n.Connections {
		if _, isHead := next[ci]; !isHead {
			continue
		}
		if _, hasUp := prev[ci]; hasUp {
			continue
		}
		chain := Chain{Connections: []string{n.Connections[ci].ID}}
		cur := ci
		for {
			down, ok := next[cur]
			if !ok {
				break
			}
			chain.Nodes = append(chain.Nodes, n.Connections[cur].ToNode)
			chain.Connections = append(chain.Connections, n.Connections[down].ID)
			cur = down
		}
		n.Chains = append(n.Chains, chain)
	}
}

func (n *Network) seriesLink(nodeID string) (*chainLink, bool) {
	if _, hasRes := n.resByNode[nodeID]; hasRes {
		return nil, false
	}
	in := n.inbound[nodeID]
	if len(in) != 1 {
		return nil, false
	}
	if _, ok := n.projByConn[n.Connections[in[0]].ID]; !ok {
		return nil, false
	}
	link := &chainLink{node: nodeID, in: in[0], out: -1}
	for _, ci := range n.outbound[nodeID] {
		if n.Connections[ci].IsSpillway {
			link.spillOut = append(link.spillOut, ci)
			continue
		}
		if link.out >= 0 {
			return nil, false // flow splits; no forced coupling
		}
		link.out = ci
	}
	if link.out < 0 {
		return nil, false
	}
	if _, ok := n.projByConn[n.Connections[link.out].ID]; !ok {
		return nil, false
	}
	return link, true
}

// Inflow returns the exogenous inflow of a node at a timepoint, applying any
// per-timepoint override to the node's constant value.
func (n *Network) Inflow(nodeID, tpID string) float64 {
	if v, ok := n.inflow[flowKey{nodeID, tpID}]; ok {
		return v
	}
	return n.Nodes[n.nodeIdx[nodeID]].ConstantInflow
}

// Consumption returns the exogenous consumption of a node at a timepoint.
func (n *Network) Consumption(nodeID, tpID string) float64 {
	if v, ok := n.consumption[flowKey{nodeID, tpID}]; ok {
		return v
	}
	return n.Nodes[n.nodeIdx[nodeID]].ConstantConsumption
}

// Boundary returns the boundary policy row for a reservoir and timeseries,
// if one was provided.
func (n *Network) Boundary(resID, ts string) (domain.ReservoirTS, bool) {
	b, ok := n.boundary[boundaryKey{resID, ts}]
	return b, ok
}

// SpillPenaltyOverride returns the per-connection penalty override.
func (n *Network) SpillPenaltyOverride(connID string) (float64, bool) {
	v, ok := n.penalty[connID]
	return v, ok
}

// ReservoirAt returns the reservoir attached to a node, if any.
func (n *Network) ReservoirAt(nodeID string) (domain.Reservoir, bool) {
	i, ok := n.resByNode[nodeID]
	if !ok {
		return domain.Reservoir{}, false
	}
	return n.Reservoirs[i], true
}

// Connection returns a connection by ID.
func (n *Network) Connection(id string) (domain.WaterConnection, bool) {
	i, ok := n.connIdx[id]
	if !ok {
		return domain.WaterConnection{}, false
	}
	return n.Connections[i], true
}

// ProjectOn returns the hydro project attached to a connection, if any. A
// connection carries at most one project; a second one fails validation.
func (n *Network) ProjectOn(connID string) (domain.HydroProject, bool) {
	i, ok := n.projByConn[connID]
	if !ok {
		return domain.HydroProject{}, false
	}
	return n.Projects[i], true
}

// MinFlow returns the flow lower bound of a connection at a timepoint,
// applying any per-timepoint ecological minimum over the static value.
func (n *Network) MinFlow(connID, tpID string) float64 {
	if v, ok := n.ecoMin[connKey{connID, tpID}]; ok {
		return v
	}
	return n.Connections[n.connIdx[connID]].MinFlow
}

// hasReservoirEndpoint reports whether either endpoint of the connection has
// a reservoir. Flow on reservoir-less connections reaches the downstream
// node one timepoint late.
func (n *Network) hasReservoirEndpoint(c domain.WaterConnection) bool {
	if _, ok := n.resByNode[c.FromNode]; ok {
		return true
	}
	_, ok := n.resByNode[c.ToNode]
	return ok
}
