package progress

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Progress renders one bar per transfer, keyed by transfer id, driven by
// percentage updates.
type Progress struct {
	mu       sync.Mutex
	progress *mpb.Progress
	bars     map[string]*tracked
}

type tracked struct {
	bar   *mpb.Bar
	total int64
}

func New(w io.Writer) *Progress {
	return &Progress{
		progress: mpb.New(mpb.WithOutput(w), mpb.WithWidth(48)),
		bars:     make(map[string]*tracked),
	}
}

// Track adds a bar for id. Tracking an id twice keeps the first bar.
func (p *Progress) Track(id string, total int64, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.bars[id]; ok {
		return
	}

	if total <= 0 {
		total = 1
	}

	bar := p.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(text, decor.WC{W: 12, C: decor.DindentRight}),
			decor.CountersKibiByte(" % .2f / % .2f", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12, C: decor.DindentRight}),
		),
	)

	p.bars[id] = &tracked{bar: bar, total: total}
}

// Set moves the bar of id to percent of its total. Unknown ids are ignored.
func (p *Progress) Set(id string, percent float64) {
	p.mu.Lock()
	t, ok := p.bars[id]
	p.mu.Unlock()

	if !ok {
		return
	}

	percent = max(0, min(percent, 100))
	t.bar.SetCurrent(int64(float64(t.total) * percent / 100))
}

// Complete fills the bar of id and stops tracking it.
func (p *Progress) Complete(id string) {
	if t := p.remove(id); t != nil {
		t.bar.SetCurrent(t.total)
	}
}

// Abort stops the bar of id where it is and stops tracking it.
func (p *Progress) Abort(id string) {
	if t := p.remove(id); t != nil {
		t.bar.Abort(false)
	}
}

func (p *Progress) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.bars[id]
	return ok
}

func (p *Progress) remove(id string) *tracked {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.bars[id]
	if !ok {
		return nil
	}

	delete(p.bars, id)
	return t
}

// Wait aborts anything still tracked and waits for rendering to finish.
func (p *Progress) Wait() {
	p.mu.Lock()
	for id, t := range p.bars {
		t.bar.Abort(false)
		delete(p.bars, id)
	}
	p.mu.Unlock()

	p.progress.Wait()
}
