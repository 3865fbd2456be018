package hydro

import (
	"strings"
	"testing"

	"basin/internal/domain"
	"basin/internal/inputs"
)

func fp(v float64) *float64 { return &v }

func tpsOf(ts string, ids ...string) []domain.Timepoint {
	var out []domain.Timepoint
	for _, id := range ids {
		out = append(out, domain.Timepoint{ID: id, Timeseries: ts, DurationHrs: 1})
	}
	return out
}

func TestNewNetworkRejectsBadReferences(t *testing.T) {
	cases := []struct {
		name string
		scn  inputs.Scenario
		want string
	}{
		{
			name: "unknown connection endpoint",
			scn: inputs.Scenario{
				Timepoints:  tpsOf("d", "t1"),
				Nodes:       []domain.WaterNode{{ID: "a"}},
				Connections: []domain.WaterConnection{{ID: "c", FromNode: "a", ToNode: "ghost", MaxFlow: 1}},
			},
			want: "unknown node ghost",
		},
		{
			name: "self loop",
			scn: inputs.Scenario{
				Timepoints:  tpsOf("d", "t1"),
				Nodes:       []domain.WaterNode{{ID: "a"}},
				Connections: []domain.WaterConnection{{ID: "c", FromNode: "a", ToNode: "a", MaxFlow: 1}},
			},
			want: "loops on node a",
		},
		{
			name: "two reservoirs on one node",
			scn: inputs.Scenario{
				Timepoints: tpsOf("d", "t1"),
				Nodes:      []domain.WaterNode{{ID: "a"}},
				Reservoirs: []domain.Reservoir{
					{ID: "r1", NodeID: "a", MaxVolume: 1},
					{ID: "r2", NodeID: "a", MaxVolume: 1},
				},
			},
			want: "two reservoirs",
		},
		{
			name: "project on spillway",
			scn: inputs.Scenario{
				Timepoints:  tpsOf("d", "t1"),
				Nodes:       []domain.WaterNode{{ID: "a"}, {ID: "b"}},
				Connections: []domain.WaterConnection{{ID: "s", FromNode: "a", ToNode: "b", MaxFlow: 1, IsSpillway: true}},
				Projects:    []domain.HydroProject{{ID: "p", ConnectionID: "s", LoadZone: "z", Efficiency: 1}},
			},
			want: "spillway connection",
		},
		{
			name: "project without load zone",
			scn: inputs.Scenario{
				Timepoints:  tpsOf("d", "t1"),
				Nodes:       []domain.WaterNode{{ID: "a"}, {ID: "b"}},
				Connections: []domain.WaterConnection{{ID: "c", FromNode: "a", ToNode: "b", MaxFlow: 1}},
				Projects:    []domain.HydroProject{{ID: "p", ConnectionID: "c", Efficiency: 1}},
			},
			want: "no load zone",
		},
		{
			name: "two projects on one connection",
			scn: inputs.Scenario{
				Timepoints:  tpsOf("d", "t1"),
				Nodes:       []domain.WaterNode{{ID: "a"}, {ID: "b"}},
				Connections: []domain.WaterConnection{{ID: "c", FromNode: "a", ToNode: "b", MaxFlow: 10}},
				Projects: []domain.HydroProject{
					{ID: "p1", ConnectionID: "c", LoadZone: "z", Efficiency: 1},
					{ID: "p2", ConnectionID: "c", LoadZone: "z", Efficiency: 1},
				},
			},
			want: "two hydro projects: p1 and p2",
		},
		{
			name: "eco flow on unknown connection",
			scn: inputs.Scenario{
				Timepoints: tpsOf("d", "t1"),
				Nodes:      []domain.WaterNode{{ID: "a"}},
				EcoFlows:   []domain.EcoFlow{{ConnectionID: "ghost", TimepointID: "t1", MinFlow: 1}},
			},
			want: "unknown connection ghost",
		},
		{
			name: "eco flow above maximum",
			scn: inputs.Scenario{
				Timepoints:  tpsOf("d", "t1"),
				Nodes:       []domain.WaterNode{{ID: "a"}, {ID: "b"}},
				Connections: []domain.WaterConnection{{ID: "c", FromNode: "a", ToNode: "b", MaxFlow: 5}},
				EcoFlows:    []domain.EcoFlow{{ConnectionID: "c", TimepointID: "t1", MinFlow: 9}},
			},
			want: "minimum flow 9 above maximum 5",
		},
		{
			name: "boundary outside bounds",
			scn: inputs.Scenario{
				Timepoints:  tpsOf("d", "t1"),
				Nodes:       []domain.WaterNode{{ID: "a"}},
				Reservoirs:  []domain.Reservoir{{ID: "r", NodeID: "a", MinVolume: 1, MaxVolume: 5}},
				ReservoirTS: []domain.ReservoirTS{{ReservoirID: "r", Timeseries: "d", InitialVolume: fp(9)}},
			},
			want: "outside bounds",
		},
		{
			name: "penalty on non-spillway",
			scn: inputs.Scenario{
				Timepoints:     tpsOf("d", "t1"),
				Nodes:          []domain.WaterNode{{ID: "a"}, {ID: "b"}},
				Connections:    []domain.WaterConnection{{ID: "c", FromNode: "a", ToNode: "b", MaxFlow: 1}},
				SpillPenalties: []domain.SpillPenalty{{ConnectionID: "c", Penalty: 1}},
			},
			want: "not a spillway",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewNetwork(&tc.scn)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestNewNetworkRejectsCycles(t *testing.T) {
	scn := inputs.Scenario{
		Timepoints: tpsOf("d", "t1"),
		Nodes:      []domain.WaterNode{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Connections: []domain.WaterConnection{
			{ID: "ab", FromNode: "a", ToNode: "b", MaxFlow: 1},
			{ID: "bc", FromNode: "b", ToNode: "c", MaxFlow: 1},
			{ID: "ca", FromNode: "c", ToNode: "a", MaxFlow: 1},
		},
	}
	_, err := NewNetwork(&scn)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("err = %v, want cycle rejection", err)
	}
}

func TestNewNetworkRejectsSplitTimeseries(t *testing.T) {
	scn := inputs.Scenario{
		Timepoints: []domain.Timepoint{
			{ID: "t1", Timeseries: "a", DurationHrs: 1},
			{ID: "t2", Timeseries: "b", DurationHrs: 1},
			{ID: "t3", Timeseries: "a", DurationHrs: 1},
		},
		Nodes: []domain.WaterNode{{ID: "n"}},
	}
	_, err := NewNetwork(&scn)
	if err == nil || !strings.Contains(err.Error(), "contiguous") {
		t.Fatalf("err = %v, want contiguity error", err)
	}
}

func seriesScenario() inputs.Scenario {
	return inputs.Scenario{
		Timepoints: tpsOf("d", "t1", "t2"),
		Nodes: []domain.WaterNode{
			{ID: "src", ConstantInflow: 10},
			{ID: "mid"},
			{ID: "end", IsSink: true},
		},
		Connections: []domain.WaterConnection{
			{ID: "g1", FromNode: "src", ToNode: "mid", MaxFlow: 50},
			{ID: "g2", FromNode: "mid", ToNode: "end", MaxFlow: 50},
			{ID: "sp", FromNode: "mid", ToNode: "end", MaxFlow: 50, IsSpillway: true},
		},
		Projects: []domain.HydroProject{
			{ID: "p1", ConnectionID: "g1", LoadZone: "z", Efficiency: 0.5},
			{ID: "p2", ConnectionID: "g2", LoadZone: "z", Efficiency: 0.8},
		},
	}
}

func TestDiscoverChains(t *testing.T) {
	scn := seriesScenario()
	net, err := NewNetwork(&scn)
	if err != nil {
		t.Fatal(err)
	}
	if len(net.Chains) != 1 {
		t.Fatalf("want 1 chain, got %+v", net.Chains)
	}
	ch := net.Chains[0]
	if len(ch.Connections) != 2 || ch.Connections[0] != "g1" || ch.Connections[1] != "g2" {
		t.Fatalf("chain connections = %v", ch.Connections)
	}
	if len(ch.Nodes) != 1 || ch.Nodes[0] != "mid" {
		t.Fatalf("chain nodes = %v", ch.Nodes)
	}
	if _, ok := net.chainNode["mid"]; !ok {
		t.Fatal("mid not marked as chain node")
	}
}

func TestNoChainWhenFlowSplits(t *testing.T) {
	scn := seriesScenario()
	// A second generator-capable outbound breaks the forced coupling.
	scn.Connections = append(scn.Connections,
		domain.WaterConnection{ID: "g3", FromNode: "mid", ToNode: "end", MaxFlow: 50})
	scn.Projects = append(scn.Projects,
		domain.HydroProject{ID: "p3", ConnectionID: "g3", LoadZone: "z", Efficiency: 1})
	net, err := NewNetwork(&scn)
	if err != nil {
		t.Fatal(err)
	}
	if len(net.Chains) != 0 {
		t.Fatalf("want no chains, got %+v", net.Chains)
	}
}

func TestNoChainAcrossReservoir(t *testing.T) {
	scn := seriesScenario()
	scn.Reservoirs = []domain.Reservoir{{ID: "r", NodeID: "mid", MaxVolume: 10}}
	net, err := NewNetwork(&scn)
	if err != nil {
		t.Fatal(err)
	}
	if len(net.Chains) != 0 {
		t.Fatalf("reservoir node coupled in series: %+v", net.Chains)
	}
}

func TestFlowOverridesFallBackToConstants(t *testing.T) {
	scn := inputs.Scenario{
		Timepoints: tpsOf("d", "t1", "t2"),
		Nodes:      []domain.WaterNode{{ID: "a", ConstantInflow: 3, ConstantConsumption: 1}},
		NodeFlows: []domain.NodeFlow{
			{NodeID: "a", TimepointID: "t2", Inflow: fp(7), Consumption: fp(2)},
		},
	}
	net, err := NewNetwork(&scn)
	if err != nil {
		t.Fatal(err)
	}
	if got := net.Inflow("a", "t1"); got != 3 {
		t.Fatalf("Inflow t1 = %g, want constant 3", got)
	}
	if got := net.Inflow("a", "t2"); got != 7 {
		t.Fatalf("Inflow t2 = %g, want override 7", got)
	}
	if got := net.Consumption("a", "t1"); got != 1 {
		t.Fatalf("Consumption t1 = %g", got)
	}
	if got := net.Consumption("a", "t2"); got != 2 {
		t.Fatalf("Consumption t2 = %g", got)
	}
}

func TestMinFlowOverridesFallBackToStatic(t *testing.T) {
	scn := inputs.Scenario{
		Timepoints: tpsOf("d", "t1", "t2"),
		Nodes:      []domain.WaterNode{{ID: "a"}, {ID: "b"}},
		Connections: []domain.WaterConnection{
			{ID: "c", FromNode: "a", ToNode: "b", MinFlow: 2, MaxFlow: 50},
		},
		EcoFlows: []domain.EcoFlow{{ConnectionID: "c", TimepointID: "t2", MinFlow: 8}},
	}
	net, err := NewNetwork(&scn)
	if err != nil {
		t.Fatal(err)
	}
	if got := net.MinFlow("c", "t1"); got != 2 {
		t.Fatalf("MinFlow t1 = %g, want static 2", got)
	}
	if got := net.MinFlow("c", "t2"); got != 8 {
		t.Fatalf("MinFlow t2 = %g, want override 8", got)
	}
}

func TestTimeseriesGrouping(t *testing.T) {
	scn := inputs.Scenario{
		Timepoints: []domain.Timepoint{
			{ID: "w1", Timeseries: "winter", DurationHrs: 4},
			{ID: "w2", Timeseries: "winter", DurationHrs: 4},
			{ID: "s1", Timeseries: "summer", DurationHrs: 6},
		},
		Nodes: []domain.WaterNode{{ID: "n"}},
	}
	net, err := NewNetwork(&scn)
	if err != nil {
		t.Fatal(err)
	}
	if len(net.Timeseries) != 2 {
		t.Fatalf("want 2 timeseries, got %+v", net.Timeseries)
	}
	if net.Timeseries[0].Name != "winter" || len(net.Timeseries[0].Timepoints) != 2 {
		t.Fatalf("winter block = %+v", net.Timeseries[0])
	}
	if net.Timeseries[1].Name != "summer" || len(net.Timeseries[1].Timepoints) != 1 {
		t.Fatalf("summer block = %+v", net.Timeseries[1])
	}
}
