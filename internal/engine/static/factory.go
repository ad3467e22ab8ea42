// Package static is the engine backend that fetches documents over plain
// HTTP, parses them with goquery and runs scripts in goja. It renders
// nothing, so screenshots are unsupported.
package static

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/logging"
)

const Name = "static"

// Factory creates static engines.
type Factory struct {
	log logrus.FieldLogger
}

var _ engine.Factory = (*Factory)(nil)

func NewFactory(log logrus.FieldLogger) *Factory {
	if log == nil {
		log = logging.NullLogger()
	}
	return &Factory{log: log}
}

func (f *Factory) Name() string {
	return Name
}

// Prepare has nothing to pull for this backend.
func (f *Factory) Prepare(ctx context.Context) error {
	return nil
}

func (f *Factory) New(ctx context.Context, opts engine.Options) (engine.Engine, error) {
	if opts.Post == nil || opts.Listener == nil {
		return nil, fmt.Errorf("static engine needs a listener and a post function")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logging.NullLogger())
	}
	e, err := newEngine(opts)
	if err != nil {
		return nil, err
	}
	f.log.WithField("session", opts.SessionID).Debug("static engine created")
	return e, nil
}

func (f *Factory) Close() error {
	return nil
}
