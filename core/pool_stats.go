package core

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/searchktools/fast-dispatch/core/pools"
)

// EngineStats represents statistics for the pools and counters of an engine
type EngineStats struct {
	Requests  pools.PoolStats       `json:"requests"`
	Responses pools.PoolStats       `json:"responses"`
	Workers   pools.WorkerPoolStats `json:"workers"`
	Admission AdmissionStats        `json:"admission"`
	Dispatch  DispatchStats         `json:"dispatch"`
	GC        pools.GCStats         `json:"gc"`
}

// Stats returns a snapshot of engine statistics
func (e *Engine) Stats() EngineStats {
	reqs, ress := e.messages.Stats()
	return EngineStats{
		Requests:  reqs,
		Responses: ress,
		Workers:   e.workers.Stats(),
		Admission: e.admission.Stats(),
		Dispatch:  e.dispatcher.Stats(),
		GC:        pools.GetGCStats(),
	}
}

// StatsJSON returns engine statistics as JSON string
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}

// StatsText returns engine statistics as human-readable text
func (e *Engine) StatsText() string {
	s := e.Stats()
	return fmt.Sprintf(`Engine Statistics
=================

Request Pool:
  Capacity: %d
  In Use:   %d
  Idle:     %d
  Misses:   %d
  Hit Rate: %.2f%%

Response Pool:
  Capacity: %d
  In Use:   %d
  Idle:     %d
  Misses:   %d
  Hit Rate: %.2f%%

Connections:
  Active:   %d
  Admitted: %d
  Rejected: %d

Dispatch:
  Messages:       %d
  Not Found:      %d
  Unauthorized:   %d
  Handler Faults: %d
  Aborted:        %d

Workers:
  Workers:   %d
  Pending:   %d
  Panicked:  %d
  Slow:      %d

Runtime:
  Goroutines: %d
  GC Cycles:  %d
  Avg Pause:  %v
  Heap Alloc: %d
`,
		s.Requests.Capacity, s.Requests.InUse, s.Requests.Idle, s.Requests.Misses, s.Requests.HitRate()*100,
		s.Responses.Capacity, s.Responses.InUse, s.Responses.Idle, s.Responses.Misses, s.Responses.HitRate()*100,
		s.Admission.Active, s.Admission.Admitted, s.Admission.Rejected,
		s.Dispatch.Dispatched, s.Dispatch.NotFound, s.Dispatch.Unauthorized, s.Dispatch.HandlerFaults, s.Dispatch.Aborted,
		s.Workers.NumWorkers, s.Workers.TasksPending, s.Workers.TasksPanicked, s.Workers.TasksSlow,
		s.GC.NumGoroutine, s.GC.NumGC, s.GC.AvgPause, s.GC.AllocBytes,
	)
}
