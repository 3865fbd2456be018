package server

import (
	"basin/internal/domain"
	"basin/internal/hydro"
	"basin/internal/lp"
)

type RunResponse struct {
	ID        string `json:"id"`
	Scenario  string `json:"scenario"`
	Status    string `json:"status" enum:"built,solved,checked,infeasible"`
	LPPath    string `json:"lp_path,omitempty"`
	Variables int    `json:"variables"`
	Rows      int    `json:"rows"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type ResultResponse struct {
	Kind        string  `json:"kind"`
	EntityID    string  `json:"entity_id"`
	TimepointID string  `json:"timepoint_id"`
	Value       float64 `json:"value"`
}

type ViolationResponse struct {
	Row    string  `json:"row"`
	Detail string  `json:"detail"`
	Amount float64 `json:"amount"`
}

type SolveResponse struct {
	Run        RunResponse         `json:"run"`
	Infeasible bool                `json:"infeasible,omitempty"`
	Violations []ViolationResponse `json:"violations"`
}

type ImportSolutionRequest struct {
	Values map[string]float64 `json:"values"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type NetworkResponse struct {
	Scenario    string        `json:"scenario"`
	Nodes       int           `json:"nodes"`
	Connections int           `json:"connections"`
	Reservoirs  int           `json:"reservoirs"`
	Projects    int           `json:"projects"`
	Timepoints  int           `json:"timepoints"`
	Chains      []hydro.Chain `json:"chains"`
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:        r.ID,
		Scenario:  r.Scenario,
		Status:    r.Status,
		LPPath:    r.LPPath,
		Variables: r.Variables,
		Rows:      r.Rows,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func mapRuns(items []domain.Run) []RunResponse {
	out := make([]RunResponse, 0, len(items))
	for _, r := range items {
		out = append(out, runResponse(r))
	}
	return out
}

func mapResults(items []domain.ResultValue) []ResultResponse {
	out := make([]ResultResponse, 0, len(items))
	for _, v := range items {
		out = append(out, ResultResponse{
			Kind:        v.Kind,
			EntityID:    v.EntityID,
			TimepointID: v.TimepointID,
			Value:       v.Value,
		})
	}
	return out
}

func mapViolations(items []lp.Violation) []ViolationResponse {
	out := make([]ViolationResponse, 0, len(items))
	for _, v := range items {
		out = append(out, ViolationResponse{Row: v.Row, Detail: v.Detail, Amount: v.Amount})
	}
	return out
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			RunID:      e.RunID,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			Payload:    e.Payload,
		})
	}
	return out
}

func networkResponse(scenario string, net *hydro.Network) NetworkResponse {
	tps := 0
	for _, ts := range net.Timeseries {
		tps += len(ts.Timepoints)
	}
	chains := net.Chains
	if chains == nil {
		chains = []hydro.Chain{}
	}
	return NetworkResponse{
		Scenario:    scenario,
		Nodes:       len(net.Nodes),
		Connections: len(net.Connections),
		Reservoirs:  len(net.Reservoirs),
		Projects:    len(net.Projects),
		Timepoints:  tps,
		Chains:      chains,
	}
}
