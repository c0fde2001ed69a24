package vpoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/telemetry-collector/internal/errs"
	"github.com/cuemby/telemetry-collector/internal/metrics"
	"github.com/cuemby/telemetry-collector/internal/sandbox"
	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/rs/zerolog"
)

// CurrentValues is the minimal read contract the engine needs against the
// shared current-values store (§4.8 stage 1: "inputs missing from the batch
// are read from the current-values store").
type CurrentValues interface {
	Get(tenantID, pointID string) (model.CurrentValue, bool)
}

type registered struct {
	vp        model.VirtualPoint
	program   *sandbox.Program
	lastError error
	execCount uint64
}

type cacheEntry struct {
	value     model.Value
	quality   model.QualityCode
	computedAt time.Time
	ttl        time.Duration
}

// Engine is the Virtual-Point Engine (§4.9).
type Engine struct {
	mu sync.RWMutex

	graph *graph
	regs  map[string]*registered // vp id -> registration

	cache map[string]cacheEntry // vp id -> last result

	logger zerolog.Logger
}

// New creates an empty Virtual-Point Engine.
func New() *Engine {
	return &Engine{
		graph: newGraph(),
		regs:  make(map[string]*registered),
		cache: make(map[string]cacheEntry),
		logger: log.WithComponent("vpoint"),
	}
}

// Register compiles vp's formula, resolves its dependency edges, and adds
// it to the DAG. A cycle is rejected and the engine is left unchanged.
func (e *Engine) Register(vp model.VirtualPoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	varNames := extractVariableNames(vp.Formula)
	depIDs := make([]string, 0, len(vp.Inputs))
	depKinds := make([]nodeKind, 0, len(vp.Inputs))
	sampleVars := make(map[string]any, len(vp.Inputs))

	boundNames := make(map[string]bool, len(vp.Inputs))
	for _, in := range vp.Inputs {
		boundNames[in.Name] = true
		switch in.Kind {
		case model.InputDataPoint:
			depIDs = append(depIDs, in.RefID)
			depKinds = append(depKinds, kindDataPoint)
		case model.InputVirtualPoint:
			depIDs = append(depIDs, in.RefID)
			depKinds = append(depKinds, kindVirtual)
		case model.InputConstant:
			// constants are bound directly, not graph edges
		}
		sampleVars[in.Name] = 0.0
	}

	for _, name := range varNames {
		if !boundNames[name] {
			return fmt.Errorf("vpoint: formula %q references unbound variable %q: %w", vp.ID, name, errs.ErrInvalidRule)
		}
	}

	prog, err := sandbox.Compile(vp.Formula, sampleVars)
	if err != nil {
		return fmt.Errorf("vpoint: %w", err)
	}

	if err := e.graph.addVirtual(vp.ID, depIDs, depKinds); err != nil {
		return err
	}

	vp.Dependencies = append([]string(nil), depIDs...)
	e.regs[vp.ID] = &registered{vp: vp, program: prog}
	delete(e.cache, vp.ID)
	return nil
}

// Unregister removes a virtual point's registration and cache entry.
func (e *Engine) Unregister(vpID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.regs, vpID)
	delete(e.cache, vpID)
}

// EvaluateBatch computes every virtual point whose dependency set
// intersects the set of point ids touched by batch, in reverse-topological
// order, reading missing inputs from cv. It returns the newly produced
// TimestampedValues (§4.8 stage 1).
func (e *Engine) EvaluateBatch(tenantID string, batch []model.TimestampedValue, cv CurrentValues, now time.Time) []model.TimestampedValue {
	e.mu.Lock()
	defer e.mu.Unlock()

	touchedPoints := make(map[string]bool, len(batch))
	batchByPoint := make(map[string]model.TimestampedValue, len(batch))
	for _, tv := range batch {
		touchedPoints[tv.PointID] = true
		batchByPoint[tv.PointID] = tv
	}

	touchedVirtual := make(map[int]bool)
	for vpID, reg := range e.regs {
		if reg.vp.TenantID != "" && reg.vp.TenantID != tenantID {
			continue
		}
		for _, dep := range reg.vp.Dependencies {
			if touchedPoints[dep] {
				touchedVirtual[e.graph.indexOf[vpID]] = true
				break
			}
		}
	}

	if len(touchedVirtual) == 0 {
		return nil
	}

	order := e.graph.reverseTopological(touchedVirtual)

	var produced []model.TimestampedValue
	for _, idx := range order {
		n := e.graph.nodes[idx]
		if n.kind != kindVirtual {
			continue
		}
		reg, ok := e.regs[n.id]
		if !ok {
			continue
		}

		tv, newlyComputed := e.evaluateOne(reg, batchByPoint, cv, now)
		if newlyComputed {
			batchByPoint[tv.PointID] = tv
			produced = append(produced, tv)
		}
	}
	return produced
}

func (e *Engine) evaluateOne(reg *registered, batchByPoint map[string]model.TimestampedValue, cv CurrentValues, now time.Time) (model.TimestampedValue, bool) {
	if cached, ok := e.cache[reg.vp.ID]; ok && reg.vp.CacheTTLSeconds > 0 {
		if now.Sub(cached.computedAt) < cached.ttl && !e.anyDependencyChanged(reg, batchByPoint, cached.computedAt) {
			return model.TimestampedValue{
				PointID:           reg.vp.ID,
				TenantID:          reg.vp.TenantID,
				Value:             cached.value,
				Quality:           cached.quality,
				SourceTimestamp:   cached.computedAt,
				ReceivedTimestamp: now,
			}, false
		}
	}

	timer := metrics.NewTimer()
	vars := make(map[string]any, len(reg.vp.Inputs))
	quality := model.QualityGood

	for _, in := range reg.vp.Inputs {
		switch in.Kind {
		case model.InputConstant:
			vars[in.Name] = in.Constant.Any()
		case model.InputDataPoint, model.InputVirtualPoint:
			if tv, ok := batchByPoint[in.RefID]; ok {
				vars[in.Name] = tv.Value.Any()
				if tv.Quality.IsBad() {
					quality = model.QualityUncertain
				}
			} else if cur, ok := cv.Get(reg.vp.TenantID, in.RefID); ok {
				vars[in.Name] = cur.Value.Any()
				if cur.Quality.IsBad() {
					quality = model.QualityUncertain
				}
			} else {
				vars[in.Name] = nil
				quality = model.QualityUncertain
			}
		}
	}

	raw, err := reg.program.Run(vars, now)
	reg.execCount++
	timer.ObserveDuration(metrics.VPEvalDuration)

	if err != nil {
		reg.lastError = err
		delete(e.cache, reg.vp.ID)
		metrics.ScriptErrorsTotal.Inc()
		e.logger.Warn().Str("vp_id", reg.vp.ID).Err(err).Msg("virtual point script error")
		return model.TimestampedValue{
			PointID:           reg.vp.ID,
			TenantID:          reg.vp.TenantID,
			Quality:           model.QualityBadScript,
			SourceTimestamp:   now,
			ReceivedTimestamp: now,
			ChangeFlags:       model.ChangeFlags{QualityChanged: true},
		}, true
	}
	reg.lastError = nil

	value, err := model.ValueFromAny(reg.vp.DataType, raw)
	if err != nil {
		quality = model.QualityBadDecode
		value = model.Value{}
	}

	if reg.vp.CacheTTLSeconds > 0 {
		e.cache[reg.vp.ID] = cacheEntry{
			value: value, quality: quality, computedAt: now,
			ttl: time.Duration(reg.vp.CacheTTLSeconds) * time.Second,
		}
	}

	return model.TimestampedValue{
		PointID:           reg.vp.ID,
		TenantID:          reg.vp.TenantID,
		Value:             value,
		Quality:           quality,
		SourceTimestamp:   now,
		ReceivedTimestamp: now,
		ChangeFlags:       model.ChangeFlags{ValueChanged: true},
	}, true
}

// anyDependencyChanged reports whether any of reg's dependencies were
// touched by the current batch since the cache entry's timestamp — a cache
// hit short-circuits evaluation only when this is false.
func (e *Engine) anyDependencyChanged(reg *registered, batchByPoint map[string]model.TimestampedValue, since time.Time) bool {
	for _, dep := range reg.vp.Dependencies {
		if tv, ok := batchByPoint[dep]; ok && tv.SourceTimestamp.After(since) {
			return true
		}
	}
	return false
}

// LastError returns the most recent script error recorded for vpID, if any.
func (e *Engine) LastError(vpID string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if reg, ok := e.regs[vpID]; ok {
		return reg.lastError
	}
	return nil
}

// ExecutionCount returns the number of times vpID's formula has been run.
func (e *Engine) ExecutionCount(vpID string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if reg, ok := e.regs[vpID]; ok {
		return reg.execCount
	}
	return 0
}
