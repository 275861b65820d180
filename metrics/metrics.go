package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/uber-go/tally/v4"
	promreporter "github.com/uber-go/tally/v4/prometheus"
	"zombiezen.com/go/log"
)

type Registry struct {
	scope    tally.Scope
	closer   io.Closer
	reporter promreporter.Reporter
	ctx      context.Context
	httpPort int
}

func NewRegistry(prefix string, httpPort int) *Registry {
	r := promreporter.NewReporter(promreporter.Options{})

	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         prefix,
		Tags:           map[string]string{},
		CachedReporter: r,
		Separator:      promreporter.DefaultSeparator,
	}, 1*time.Second)

	return &Registry{
		scope:    scope,
		closer:   closer,
		reporter: r,
		ctx:      context.Background(),
		httpPort: httpPort,
	}
}

// NewNopRegistry returns a registry that records nothing; handy for tests
// and for embedding the stores without a reporting endpoint.
func NewNopRegistry() *Registry {
	return &Registry{
		scope: tally.NoopScope,
		ctx:   context.Background(),
	}
}

func (r *Registry) TimeStoreOperation(op string, f func() error) error {
	r.scope.Tagged(map[string]string{"op": op}).Counter("store_op_count").Inc(1)
	tsw := r.scope.Tagged(map[string]string{"op": op}).Timer("store_op_timer").Start()
	err := f()
	tsw.Stop()
	if err != nil {
		r.scope.Tagged(map[string]string{"op": op}).Counter("store_op_error_count").Inc(1)
	}
	return err
}

func (r *Registry) CountConflict(op string) {
	r.scope.Tagged(map[string]string{"op": op}).Counter("store_op_conflict_count").Inc(1)
}

func (r *Registry) Serve() error {
	if r.reporter == nil {
		return fmt.Errorf("metrics reporting not configured")
	}
	port := r.httpPort
	http.Handle("/metrics", r.reporter.HTTPHandler())
	log.Infof(r.ctx, "Serving 0.0.0.0:%d/metrics", port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
		return fmt.Errorf("unable to serve metrics: %v", err)
	} else {
		select {}
	}
}
