// Package inputs reads the tabular scenario files that describe the
// hydraulic system. One record type per file, header row required. The
// loader checks file-local problems (missing columns, bad numbers, duplicate
// identifiers) and leaves cross-table reference checks to the network
// validation pass.
package inputs

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"basin/internal/domain"
)

// Scenario is the full set of loaded input tables, in file order.
type Scenario struct {
	Name           string
	Timepoints     []domain.Timepoint
	Nodes          []domain.WaterNode
	Connections    []domain.WaterConnection
	Reservoirs     []domain.Reservoir
	Projects       []domain.HydroProject
	NodeFlows      []domain.NodeFlow
	ReservoirTS    []domain.ReservoirTS
	EcoFlows       []domain.EcoFlow
	SpillPenalties []domain.SpillPenalty
}

// Load reads every scenario table from dir. The four topology files are
// mandatory; the per-timepoint and per-timeseries files are optional with
// constant defaults, as are the ecological-minimum and spillage penalty
// overrides.
func Load(dir, name string) (*Scenario, error) {
	s := &Scenario{Name: name}

	tps, err := readTable(filepath.Join(dir, "timepoints.csv"), "timepoint_id", "timeseries", "duration_hrs")
	if err != nil {
		return nil, err
	}
	seenTP := map[string]bool{}
	for _, row := range tps.rows {
		tp := domain.Timepoint{
			ID:         row.get("timepoint_id"),
			Timeseries: row.get("timeseries"),
		}
		if seenTP[tp.ID] {
			return nil, row.errf("duplicate timepoint %s", tp.ID)
		}
		seenTP[tp.ID] = true
		if tp.DurationHrs, err = row.float("duration_hrs", 0); err != nil {
			return nil, err
		}
		if tp.DurationHrs <= 0 {
			return nil, row.errf("timepoint %s must have positive duration, got %g", tp.ID, tp.DurationHrs)
		}
		s.Timepoints = append(s.Timepoints, tp)
	}
	if len(s.Timepoints) == 0 {
		return nil, fmt.Errorf("%s: no timepoints defined", tps.file)
	}

	nodes, err := readTable(filepath.Join(dir, "water_nodes.csv"), "node_id", "is_sink")
	if err != nil {
		return nil, err
	}
	seenNode := map[string]bool{}
	for _, row := range nodes.rows {
		n := domain.WaterNode{ID: row.get("node_id")}
		if seenNode[n.ID] {
			return nil, row.errf("duplicate water node %s", n.ID)
		}
		seenNode[n.ID] = true
		if n.IsSink, err = row.boolean("is_sink"); err != nil {
			return nil, err
		}
		if n.ConstantInflow, err = row.float("constant_inflow", 0); err != nil {
			return nil, err
		}
		if n.ConstantConsumption, err = row.float("constant_consumption", 0); err != nil {
			return nil, err
		}
		if n.ConstantInflow < 0 || n.ConstantConsumption < 0 {
			return nil, row.errf("water node %s has negative constant flow", n.ID)
		}
		s.Nodes = append(s.Nodes, n)
	}

	cons, err := readTable(filepath.Join(dir, "water_connections.csv"), "connection_id", "from_node", "to_node")
	if err != nil {
		return nil, err
	}
	seenCon := map[string]bool{}
	for _, row := range cons.rows {
		c := domain.WaterConnection{
			ID:       row.get("connection_id"),
			FromNode: row.get("from_node"),
			ToNode:   row.get("to_node"),
		}
		if seenCon[c.ID] {
			return nil, row.errf("duplicate water connection %s", c.ID)
		}
		seenCon[c.ID] = true
		if c.MinFlow, err = row.float("min_flow", 0); err != nil {
			return nil, err
		}
		if c.MaxFlow, err = row.float("max_flow", math.Inf(1)); err != nil {
			return nil, err
		}
		if c.IsSpillway, err = row.boolean("is_spillway"); err != nil {
			return nil, err
		}
		s.Connections = append(s.Connections, c)
	}

	res, err := readTable(filepath.Join(dir, "reservoirs.csv"), "reservoir_id", "node_id", "min_volume", "max_volume")
	if err != nil {
		return nil, err
	}
	seenRes := map[string]bool{}
	for _, row := range res.rows {
		r := domain.Reservoir{
			ID:     row.get("reservoir_id"),
			NodeID: row.get("node_id"),
		}
		if seenRes[r.ID] {
			return nil, row.errf("duplicate reservoir %s", r.ID)
		}
		seenRes[r.ID] = true
		if r.MinVolume, err = row.float("min_volume", 0); err != nil {
			return nil, err
		}
		if r.MaxVolume, err = row.float("max_volume", 0); err != nil {
			return nil, err
		}
		s.Reservoirs = append(s.Reservoirs, r)
	}

	projects, err := readTable(filepath.Join(dir, "hydro_projects.csv"), "project_id", "connection_id", "load_zone", "efficiency")
	if err != nil {
		return nil, err
	}
	seenProj := map[string]bool{}
	for _, row := range projects.rows {
		p := domain.HydroProject{
			ID:           row.get("project_id"),
			ConnectionID: row.get("connection_id"),
			LoadZone:     row.get("load_zone"),
		}
		if seenProj[p.ID] {
			return nil, row.errf("duplicate hydro project %s", p.ID)
		}
		seenProj[p.ID] = true
		if p.Efficiency, err = row.float("efficiency", 0); err != nil {
			return nil, err
		}
		if p.Efficiency <= 0 {
			return nil, row.errf("hydro project %s must have positive efficiency, got %g", p.ID, p.Efficiency)
		}
		if p.CanPump, err = row.boolean("can_pump"); err != nil {
			return nil, err
		}
		if p.PumpCapacity, err = row.float("pump_capacity", 0); err != nil {
			return nil, err
		}
		if p.RoundTrip, err = row.float("round_trip_efficiency", 0); err != nil {
			return nil, err
		}
		if p.CanPump {
			if p.PumpCapacity <= 0 {
				return nil, row.errf("hydro project %s can pump but has no pump_capacity", p.ID)
			}
			if p.RoundTrip <= 0 || p.RoundTrip > 1 {
				return nil, row.errf("hydro project %s needs round_trip_efficiency in (0,1], got %g", p.ID, p.RoundTrip)
			}
		}
		s.Projects = append(s.Projects, p)
	}

	flows, err := readOptionalTable(filepath.Join(dir, "water_node_tp_flows.csv"), "node_id", "timepoint_id")
	if err != nil {
		return nil, err
	}
	if flows != nil {
		for _, row := range flows.rows {
			f := domain.NodeFlow{
				NodeID:      row.get("node_id"),
				TimepointID: row.get("timepoint_id"),
			}
			if f.Inflow, err = row.optFloat("inflow"); err != nil {
				return nil, err
			}
			if f.Consumption, err = row.optFloat("consumption"); err != nil {
				return nil, err
			}
			s.NodeFlows = append(s.NodeFlows, f)
		}
	}

	rts, err := readOptionalTable(filepath.Join(dir, "reservoir_ts_data.csv"), "reservoir_id", "timeseries")
	if err != nil {
		return nil, err
	}
	if rts != nil {
		for _, row := range rts.rows {
			r := domain.ReservoirTS{
				ReservoirID: row.get("reservoir_id"),
				Timeseries:  row.get("timeseries"),
			}
			if r.InitialVolume, err = row.optFloat("initial_volume"); err != nil {
				return nil, err
			}
			if r.FinalVolume, err = row.optFloat("final_volume"); err != nil {
				return nil, err
			}
			s.ReservoirTS = append(s.ReservoirTS, r)
		}
	}

	eco, err := readOptionalTable(filepath.Join(dir, "min_eco_flows.csv"), "connection_id", "timepoint_id", "min_eco_flow")
	if err != nil {
		return nil, err
	}
	if eco != nil {
		for _, row := range eco.rows {
			m := domain.EcoFlow{
				ConnectionID: row.get("connection_id"),
				TimepointID:  row.get("timepoint_id"),
			}
			if m.MinFlow, err = row.float("min_eco_flow", 0); err != nil {
				return nil, err
			}
			if m.MinFlow < 0 {
				return nil, row.errf("minimum eco flow for %s must be non-negative", m.ConnectionID)
			}
			s.EcoFlows = append(s.EcoFlows, m)
		}
	}

	pen, err := readOptionalTable(filepath.Join(dir, "spillage_penalty.csv"), "connection_id", "penalty")
	if err != nil {
		return nil, err
	}
	if pen != nil {
		for _, row := range pen.rows {
			p := domain.SpillPenalty{ConnectionID: row.get("connection_id")}
			if p.Penalty, err = row.float("penalty", 0); err != nil {
				return nil, err
			}
			if p.Penalty < 0 {
				return nil, row.errf("spillage penalty for %s must be non-negative", p.ConnectionID)
			}
			s.SpillPenalties = append(s.SpillPenalties, p)
		}
	}

	return s, nil
}

type tableRow struct {
	file string
	line int
	cols map[string]int
	vals []string
}

type table struct {
	file string
	rows []tableRow
}

func readTable(path string, required ...string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("required input file %s is missing", filepath.Base(path))
		}
		return nil, err
	}
	defer f.Close()
	return parseTable(f, filepath.Base(path), required)
}

func readOptionalTable(path string, required ...string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return parseTable(f, filepath.Base(path), required)
}

func parseTable(r io.Reader, file string, required []string) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: empty file", file)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, col := range required {
		if _, ok := cols[col]; !ok {
			return nil, fmt.Errorf("%s: missing required column %q", file, col)
		}
	}
	t := &table{file: file}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", file, line+1, err)
		}
		line++
		t.rows = append(t.rows, tableRow{file: file, line: line, cols: cols, vals: rec})
	}
	return t, nil
}

func (r tableRow) get(col string) string {
	i, ok := r.cols[col]
	if !ok || i >= len(r.vals) {
		return ""
	}
	return strings.TrimSpace(r.vals[i])
}

func (r tableRow) errf(format string, args ...any) error {
	return fmt.Errorf("%s line %d: %s", r.file, r.line, fmt.Sprintf(format, args...))
}

func (r tableRow) float(col string, dflt float64) (float64, error) {
	raw := r.get(col)
	if raw == "" || raw == "." {
		return dflt, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, r.errf("column %s: %q is not a number", col, raw)
	}
	return v, nil
}

func (r tableRow) optFloat(col string) (*float64, error) {
	raw := r.get(col)
	if raw == "" || raw == "." {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, r.errf("column %s: %q is not a number", col, raw)
	}
	return &v, nil
}

func (r tableRow) boolean(col string) (bool, error) {
	switch strings.ToLower(r.get(col)) {
	case "", "0", "false", "no":
		return false, nil
	case "1", "true", "yes":
		return true, nil
	default:
		return false, r.errf("column %s: %q is not a boolean", col, r.get(col))
	}
}
