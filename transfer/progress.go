package transfer

import (
	"github.com/Dyastin-0/lanshare/core"
	"github.com/Dyastin-0/lanshare/types"
)

// reporter emits a progress event every step bytes and once more when the
// total is reached.
type reporter struct {
	emitter core.Emitter
	event   string
	id      string

	total uint64
	step  uint64
	done  uint64
	last  uint64
	final bool
}

func newReporter(emitter core.Emitter, event, id string, total, step uint64) *reporter {
	if step == 0 {
		step = core.DefaultProgressStep
	}

	return &reporter{
		emitter: emitter,
		event:   event,
		id:      id,
		total:   total,
		step:    step,
	}
}

func (r *reporter) Add(n int) {
	r.done += uint64(n)

	if r.done == r.total {
		r.finish()
		return
	}

	if r.done-r.last >= r.step {
		r.emit()
	}
}

// finish emits 100% exactly once. Zero byte transfers only ever call this.
func (r *reporter) finish() {
	if r.final {
		return
	}
	r.final = true
	r.emit()
}

func (r *reporter) Done() uint64 {
	return r.done
}

func (r *reporter) emit() {
	r.last = r.done
	r.emitter.Emit(r.event, types.TransferProgress{
		TransferID: r.id,
		Percent:    Percent(r.done, r.total),
	})
}

// Percent returns done/total as 0-100. An empty total counts as complete.
func Percent(done, total uint64) float64 {
	if total == 0 {
		return 100
	}

	return float64(done) / float64(total) * 100
}
