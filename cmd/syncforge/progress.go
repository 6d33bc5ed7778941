package main

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/tordrt/syncforge/internal/rowdiff"
)

// progressBars shows one spinner per table being compared, fed from the
// comparator's progress channel
type progressBars struct {
	p       *mpb.Progress
	updates chan rowdiff.Progress
	done    chan struct{}

	mu   sync.Mutex
	bars map[string]*mpb.Bar
	// order keeps bars completing in the order tables were started
	order []string
}

func newProgressBars(w io.Writer) *progressBars {
	pb := &progressBars{
		p:       mpb.New(mpb.WithOutput(w), mpb.WithWidth(40)),
		updates: make(chan rowdiff.Progress, 16),
		done:    make(chan struct{}),
		bars:    make(map[string]*mpb.Bar),
	}
	go pb.run()
	return pb
}

// Updates is the channel to hand to the comparator
func (pb *progressBars) Updates() chan<- rowdiff.Progress {
	return pb.updates
}

func (pb *progressBars) run() {
	defer close(pb.done)
	for u := range pb.updates {
		pb.bar(u.Table).SetCurrent(u.SourceRows + u.TargetRows)
	}
}

func (pb *progressBars) bar(table string) *mpb.Bar {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if b, ok := pb.bars[table]; ok {
		return b
	}
	// a new table means the previous one finished
	if n := len(pb.order); n > 0 {
		pb.bars[pb.order[n-1]].SetTotal(-1, true)
	}
	b := pb.p.New(0, mpb.SpinnerStyle(),
		mpb.PrependDecorators(decor.Name(table, decor.WCSyncSpaceR)),
		mpb.AppendDecorators(
			decor.CurrentNoUnit("%d rows read", decor.WCSyncSpace),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
		),
	)
	pb.bars[table] = b
	pb.order = append(pb.order, table)
	return b
}

// Finish stops accepting updates and completes or aborts every bar
func (pb *progressBars) Finish(ok bool) {
	close(pb.updates)
	<-pb.done

	pb.mu.Lock()
	for _, table := range pb.order {
		b := pb.bars[table]
		if ok {
			b.SetTotal(-1, true)
		} else if !b.Completed() {
			b.Abort(false)
		}
	}
	pb.mu.Unlock()
	pb.p.Wait()
}
