package inputs

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeScenario(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func minimalFiles() map[string]string {
	return map[string]string{
		"timepoints.csv": "timepoint_id,timeseries,duration_hrs\n" +
			"t1,day,4\n" +
			"t2,day,4\n",
		"water_nodes.csv": "node_id,is_sink,constant_inflow,constant_consumption\n" +
			"head,0,12.5,0\n" +
			"sea,yes,,\n",
		"water_connections.csv": "connection_id,from_node,to_node,min_flow,max_flow,is_spillway\n" +
			"gen,head,sea,0,40,0\n" +
			"sp,head,sea,,,1\n",
		"reservoirs.csv": "reservoir_id,node_id,min_volume,max_volume\n" +
			"res,head,1,250\n",
		"hydro_projects.csv": "project_id,connection_id,load_zone,efficiency,can_pump,pump_capacity,round_trip_efficiency\n" +
			"p1,gen,north,0.85,no,,\n",
	}
}

func TestLoadMinimalScenario(t *testing.T) {
	dir := writeScenario(t, minimalFiles())
	s, err := Load(dir, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "demo" {
		t.Fatalf("scenario name = %q", s.Name)
	}
	if len(s.Timepoints) != 2 || s.Timepoints[0].DurationHrs != 4 {
		t.Fatalf("timepoints = %+v", s.Timepoints)
	}
	if len(s.Nodes) != 2 {
		t.Fatalf("nodes = %+v", s.Nodes)
	}
	if s.Nodes[0].ConstantInflow != 12.5 || s.Nodes[0].IsSink {
		t.Fatalf("head node = %+v", s.Nodes[0])
	}
	if !s.Nodes[1].IsSink {
		t.Fatalf("sea node = %+v", s.Nodes[1])
	}
	if s.Connections[0].MaxFlow != 40 {
		t.Fatalf("gen connection = %+v", s.Connections[0])
	}
	// Absent max_flow means unconstrained.
	if !math.IsInf(s.Connections[1].MaxFlow, 1) || !s.Connections[1].IsSpillway {
		t.Fatalf("spillway connection = %+v", s.Connections[1])
	}
	if s.Reservoirs[0].MinVolume != 1 || s.Reservoirs[0].MaxVolume != 250 {
		t.Fatalf("reservoir = %+v", s.Reservoirs[0])
	}
	if s.Projects[0].Efficiency != 0.85 || s.Projects[0].CanPump {
		t.Fatalf("project = %+v", s.Projects[0])
	}
	if s.NodeFlows != nil || s.ReservoirTS != nil || s.EcoFlows != nil || s.SpillPenalties != nil {
		t.Fatalf("optional tables not empty: %+v %+v %+v %+v", s.NodeFlows, s.ReservoirTS, s.EcoFlows, s.SpillPenalties)
	}
}

func TestLoadOptionalTables(t *testing.T) {
	files := minimalFiles()
	files["water_node_tp_flows.csv"] = "node_id,timepoint_id,inflow,consumption\n" +
		"head,t1,20,.\n" +
		"head,t2,,3\n"
	files["reservoir_ts_data.csv"] = "reservoir_id,timeseries,initial_volume,final_volume\n" +
		"res,day,100,\n"
	files["min_eco_flows.csv"] = "connection_id,timepoint_id,min_eco_flow\n" +
		"gen,t2,6.5\n"
	files["spillage_penalty.csv"] = "connection_id,penalty\n" +
		"sp,250\n"
	dir := writeScenario(t, files)
	s, err := Load(dir, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.NodeFlows) != 2 {
		t.Fatalf("node flows = %+v", s.NodeFlows)
	}
	f := s.NodeFlows[0]
	if f.Inflow == nil || *f.Inflow != 20 || f.Consumption != nil {
		t.Fatalf("first flow override = %+v", f)
	}
	f = s.NodeFlows[1]
	if f.Inflow != nil || f.Consumption == nil || *f.Consumption != 3 {
		t.Fatalf("second flow override = %+v", f)
	}
	r := s.ReservoirTS[0]
	if r.InitialVolume == nil || *r.InitialVolume != 100 || r.FinalVolume != nil {
		t.Fatalf("reservoir boundary = %+v", r)
	}
	if len(s.EcoFlows) != 1 {
		t.Fatalf("eco flows = %+v", s.EcoFlows)
	}
	m := s.EcoFlows[0]
	if m.ConnectionID != "gen" || m.TimepointID != "t2" || m.MinFlow != 6.5 {
		t.Fatalf("eco flow = %+v", m)
	}
	if len(s.SpillPenalties) != 1 || s.SpillPenalties[0].Penalty != 250 {
		t.Fatalf("penalties = %+v", s.SpillPenalties)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]string)
		want   string
	}{
		{
			name:   "missing required file",
			mutate: func(f map[string]string) { delete(f, "reservoirs.csv") },
			want:   "required input file reservoirs.csv is missing",
		},
		{
			name: "missing column",
			mutate: func(f map[string]string) {
				f["timepoints.csv"] = "timepoint_id,duration_hrs\nt1,4\n"
			},
			want: `missing required column "timeseries"`,
		},
		{
			name: "no timepoints",
			mutate: func(f map[string]string) {
				f["timepoints.csv"] = "timepoint_id,timeseries,duration_hrs\n"
			},
			want: "no timepoints defined",
		},
		{
			name: "duplicate timepoint",
			mutate: func(f map[string]string) {
				f["timepoints.csv"] = "timepoint_id,timeseries,duration_hrs\nt1,day,4\nt1,day,4\n"
			},
			want: "duplicate timepoint t1",
		},
		{
			name: "nonpositive duration",
			mutate: func(f map[string]string) {
				f["timepoints.csv"] = "timepoint_id,timeseries,duration_hrs\nt1,day,0\n"
			},
			want: "positive duration",
		},
		{
			name: "bad boolean",
			mutate: func(f map[string]string) {
				f["water_nodes.csv"] = "node_id,is_sink\nhead,maybe\n"
			},
			want: "is not a boolean",
		},
		{
			name: "bad number",
			mutate: func(f map[string]string) {
				f["reservoirs.csv"] = "reservoir_id,node_id,min_volume,max_volume\nres,head,zero,250\n"
			},
			want: "is not a number",
		},
		{
			name: "negative constant flow",
			mutate: func(f map[string]string) {
				f["water_nodes.csv"] = "node_id,is_sink,constant_inflow\nhead,0,-1\n"
			},
			want: "negative constant flow",
		},
		{
			name: "duplicate connection",
			mutate: func(f map[string]string) {
				f["water_connections.csv"] = "connection_id,from_node,to_node\nc,a,b\nc,a,b\n"
			},
			want: "duplicate water connection c",
		},
		{
			name: "nonpositive efficiency",
			mutate: func(f map[string]string) {
				f["hydro_projects.csv"] = "project_id,connection_id,load_zone,efficiency\np1,gen,north,0\n"
			},
			want: "positive efficiency",
		},
		{
			name: "pump without capacity",
			mutate: func(f map[string]string) {
				f["hydro_projects.csv"] = "project_id,connection_id,load_zone,efficiency,can_pump,pump_capacity,round_trip_efficiency\n" +
					"p1,gen,north,0.9,yes,,0.8\n"
			},
			want: "no pump_capacity",
		},
		{
			name: "round trip out of range",
			mutate: func(f map[string]string) {
				f["hydro_projects.csv"] = "project_id,connection_id,load_zone,efficiency,can_pump,pump_capacity,round_trip_efficiency\n" +
					"p1,gen,north,0.9,yes,5,1.2\n"
			},
			want: "round_trip_efficiency in (0,1]",
		},
		{
			name: "negative eco flow",
			mutate: func(f map[string]string) {
				f["min_eco_flows.csv"] = "connection_id,timepoint_id,min_eco_flow\ngen,t1,-3\n"
			},
			want: "minimum eco flow for gen must be non-negative",
		},
		{
			name: "eco flow missing column",
			mutate: func(f map[string]string) {
				f["min_eco_flows.csv"] = "connection_id,min_eco_flow\ngen,3\n"
			},
			want: `missing required column "timepoint_id"`,
		},
		{
			name: "negative penalty",
			mutate: func(f map[string]string) {
				f["spillage_penalty.csv"] = "connection_id,penalty\nsp,-10\n"
			},
			want: "must be non-negative",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			files := minimalFiles()
			tc.mutate(files)
			dir := writeScenario(t, files)
			_, err := Load(dir, "demo")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadErrorsCarryLineNumbers(t *testing.T) {
	files := minimalFiles()
	files["water_nodes.csv"] = "node_id,is_sink\nok,0\nbad,maybe\n"
	dir := writeScenario(t, files)
	_, err := Load(dir, "demo")
	if err == nil || !strings.Contains(err.Error(), "water_nodes.csv line 3") {
		t.Fatalf("err = %v, want file and line prefix", err)
	}
}
