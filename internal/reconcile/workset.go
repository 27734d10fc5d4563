package reconcile

import "github.com/spachava753/geosync/internal/models"

// Options select how the ledger and remote state filter local assets.
type Options struct {
	Overwrite   bool
	Resume      bool
	RetryFailed bool
}

// LedgerView is the read side of a run ledger.
type LedgerView interface {
	State(name string) (models.AssetState, bool)
}

// WorkSet is the ordered list of assets a run will process, plus why others were left out.
type WorkSet struct {
	Tasks          []models.AssetTask
	Existing       int
	InFlight       int
	LedgerExcluded int
}

// ComputeWorkSet filters local assets against the remote state and, when resuming or
// retrying, the ledger. Input order is preserved. Overwrite queues every local asset.
// Otherwise remote state always wins: an asset that exists or is in flight remotely
// is never queued.
func ComputeWorkSet(local []models.AssetTask, remote RemoteState, opts Options, ledger LedgerView) WorkSet {
	var ws WorkSet
	if opts.Overwrite {
		ws.Tasks = append(ws.Tasks, local...)
		return ws
	}

	for _, task := range local {
		if _, ok := remote.Existing[task.Name]; ok {
			ws.Existing++
			continue
		}
		if _, ok := remote.InFlight[task.Name]; ok {
			ws.InFlight++
			continue
		}

		if ledger != nil && (opts.Resume || opts.RetryFailed) {
			state, _ := ledger.State(task.Name)
			if opts.RetryFailed && state != models.StateFailed {
				ws.LedgerExcluded++
				continue
			}
			if opts.Resume && (state == models.StateSucceeded || state == models.StateRunning) {
				ws.LedgerExcluded++
				continue
			}
		}

		ws.Tasks = append(ws.Tasks, task)
	}
	return ws
}

// Names lists the queued asset names in order.
func (ws WorkSet) Names() []string {
	names := make([]string, len(ws.Tasks))
	for i, t := range ws.Tasks {
		names[i] = t.Name
	}
	return names
}
