package engine

import "github.com/band-engine/band/internal/domain"

// shortestCacheKey memoizes the per-worker candidate set for a (model,
// already-resolved-units) pair — every job with the same residual mask
// sees the same set of eligible (worker, key, expected-latency) triples,
// so repeated calls during a busy scheduling window do not re-walk every
// executor's prepared subgraph table (spec.md §4.6
// GetSubgraphWithShortestLatency: "memoized on (modelId, resolvedMask)").
type shortestCacheKey struct {
	model    domain.ModelID
	resolved domain.BitMask
}

type candidate struct {
	Worker   domain.WorkerID
	Key      domain.SubgraphKey
	Expected int64
}

type candidateSet []candidate

// defaultUnprofiledLatency is charged to a subgraph with no estimator entry
// and no GetWorst fallback for its model, so a cold engine can still make a
// scheduling decision on its very first request (spec.md §4.2 "an
// unprofiled key never blocks scheduling").
const defaultUnprofiledLatency int64 = 1000

// largestKeyFor returns, among executor's prepared SubgraphKeys, the one
// with no overlap against resolved and the greatest intersection with
// remaining — i.e. the biggest next step the model still owes on this
// worker.
func largestKeyFor(executor domain.ModelExecutor, resolved, remaining domain.BitMask) (domain.SubgraphKey, bool) {
	var best domain.SubgraphKey
	bestScore := -1
	executor.ForEachSubgraph(func(key domain.SubgraphKey) bool {
		if !key.UnitIndices.Intersect(resolved).IsEmpty() {
			return true // already-completed work, not a candidate
		}
		score := key.UnitIndices.Intersect(remaining).PopCount()
		if key.IsFullModel() {
			score = remaining.PopCount() + 1 // a full-model key always wins
		}
		if score > bestScore {
			best, bestScore = key, score
		}
		return true
	})
	return best, bestScore >= 0
}

func fullUnitMask(spec *domain.ModelSpec) domain.BitMask {
	return domain.NewBitMask(rangeInts(len(spec.UnitSubgraphs))...)
}

func rangeInts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// candidatesFor computes (and caches) the set of workers eligible to run
// model's next unit step given the units already resolved.
func (e *Engine) candidatesFor(model domain.ModelID, resolved domain.BitMask) (candidateSet, bool) {
	key := shortestCacheKey{model: model, resolved: resolved}

	e.cacheMu.Lock()
	if cs, ok := e.cache[key]; ok {
		e.cacheMu.Unlock()
		return cs, len(cs) > 0
	}
	e.cacheMu.Unlock()

	me, ok := e.lookupModel(model)
	if !ok {
		return nil, false
	}
	remaining := fullUnitMask(me.spec) &^ resolved

	var cs candidateSet
	for w, executor := range me.executors {
		k, found := largestKeyFor(executor, resolved, remaining)
		if !found {
			continue
		}
		expected, ok := e.estimator.GetExpected(k)
		if !ok {
			expected, ok = e.estimator.GetWorst(model)
		}
		if !ok {
			expected = defaultUnprofiledLatency
		}
		cs = append(cs, candidate{Worker: w, Key: k, Expected: expected})
	}

	e.cacheMu.Lock()
	e.cache[key] = cs
	e.cacheMu.Unlock()
	return cs, len(cs) > 0
}

// ShortestLatency implements domain.SchedulingEnvironment.ShortestLatency /
// Engine.GetSubgraphWithShortestLatency (spec.md §4.6): among every worker
// eligible to run job's next unit step, pick the one whose queue-drain
// time plus the step's expected latency is earliest, and stamp the chosen
// estimate onto job.ExpectedLatency for downstream SLO checks.
func (e *Engine) ShortestLatency(job *domain.Job, waiting domain.WorkerWaitingTime) ([]domain.SubgraphKey, int64, bool) {
	candidates, ok := e.candidatesFor(job.ModelID, job.ResolvedUnitSubgraphs)
	if !ok {
		return nil, 0, false
	}
	now := e.Now()
	var best candidate
	bestEnd := int64(-1)
	for _, c := range candidates {
		end := now + waiting[c.Worker] + c.Expected
		if bestEnd < 0 || end < bestEnd {
			best, bestEnd = c, end
		}
	}
	if bestEnd < 0 {
		return nil, 0, false
	}
	job.ExpectedLatency = best.Expected
	return []domain.SubgraphKey{best.Key}, bestEnd, true
}

// LargestSubgraphKey implements domain.SchedulingEnvironment.LargestSubgraphKey
// for the simpler schedulers (fixedWorker, roundRobin): the biggest next
// step job's model can take on worker w, ignoring queue timing entirely.
func (e *Engine) LargestSubgraphKey(job *domain.Job, w domain.WorkerID) (domain.SubgraphKey, bool) {
	me, ok := e.lookupModel(job.ModelID)
	if !ok {
		return domain.SubgraphKey{}, false
	}
	executor, ok := me.executors[w]
	if !ok {
		return domain.SubgraphKey{}, false
	}
	remaining := fullUnitMask(me.spec) &^ job.ResolvedUnitSubgraphs
	return largestKeyFor(executor, job.ResolvedUnitSubgraphs, remaining)
}

// SubgraphSatisfyingSLO is a supplemented interface point
// (GetSubgraphIdxSatisfyingSLO in the system this core is modeled on): band
// does not yet implement SLO-aware subgraph substitution — every caller
// gets the "no substitute available" answer, so a Scheduler always falls
// back to its ordinary ShortestLatency/LargestSubgraphKey decision.
func (e *Engine) SubgraphSatisfyingSLO(job *domain.Job, sloUs int64) (domain.SubgraphKey, bool) {
	return domain.SubgraphKey{}, false
}

// invalidateCache drops every memoized candidate set for model, called
// when RegisterModel replaces or UnregisterModel removes it.
func (e *Engine) invalidateCache(model domain.ModelID) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	for k := range e.cache {
		if k.model == model {
			delete(e.cache, k)
		}
	}
}
