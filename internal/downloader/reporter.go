package downloader

// Reporter publishes downloader events.
type Reporter interface {
	Report(Event)
}

// ChanReporter writes events to a channel. Terminal events block until
// delivered; other events are dropped when the channel is full so a slow
// consumer cannot stall transfers.
type ChanReporter struct {
	ch chan<- Event
}

func NewChanReporter(ch chan<- Event) *ChanReporter { return &ChanReporter{ch: ch} }

func (r *ChanReporter) Report(e Event) {
	if r == nil {
		return
	}
	if e.Type.Terminal() {
		r.ch <- e
		return
	}
	select {
	case r.ch <- e:
	default:
	}
}

// MultiReporter fans an event out to several reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(e Event) {
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}
