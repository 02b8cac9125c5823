package surface

import (
	"io"

	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/session"
)

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithConsole draws surfaces on out.
func WithConsole(out io.Writer) FactoryOption {
	return func(f *Factory) { f.sinks = append(f.sinks, NewConsole(out)) }
}

// WithFeed publishes surfaces on pub.
func WithFeed(pub Publisher) FactoryOption {
	return func(f *Factory) { f.sinks = append(f.sinks, NewFeed(pub)) }
}

// WithSink adds a custom sink.
func WithSink(sink Sink) FactoryOption {
	return func(f *Factory) { f.sinks = append(f.sinks, sink) }
}

// WithLogger sets the logger handed to created surfaces.
func WithLogger(logger logging.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// WithOnCreate calls fn for every created surface.
func WithOnCreate(fn func(*Surface)) FactoryOption {
	return func(f *Factory) { f.onCreate = fn }
}

// Factory creates surfaces drawn on every configured sink.
type Factory struct {
	sinks    []Sink
	logger   logging.Logger
	onCreate func(*Surface)
}

var _ session.SurfaceFactory = (*Factory)(nil)

// NewFactory creates a factory. Without sinks surfaces are drawn nowhere.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{logger: logging.GetLogger("surface")}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateSurface opens a surface.
func (f *Factory) CreateSurface(title string, autoClose bool) session.Surface {
	var sink Sink
	switch len(f.sinks) {
	case 0:
		sink = MultiSink()
	case 1:
		sink = f.sinks[0]
	default:
		sink = MultiSink(f.sinks...)
	}
	s := New(title, autoClose, sink, f.logger)
	if f.onCreate != nil {
		f.onCreate(s)
	}
	return s
}
