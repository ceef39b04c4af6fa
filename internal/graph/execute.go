package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
)

// ErrSubscriptionTransport rejects subscriptions sent over one-shot transports.
var ErrSubscriptionTransport = errors.New("subscriptions are only served over the websocket transport at /graphql")

// Execute runs a query or mutation to completion.
func (e *Engine) Execute(ctx context.Context, req Request) *graphql.Result {
	kind, err := Classify(req)
	if err != nil {
		return ErrorResult(err)
	}
	if kind == OperationSubscription {
		return ErrorResult(ErrSubscriptionTransport)
	}
	return e.do(ctx, req)
}

// Subscribe starts a subscription operation. The returned channel yields
// one result per event and is closed once ctx is done or the stream ends;
// by then the underlying broker stream has been closed. Callers either read
// until the channel is closed or cancel ctx.
func (e *Engine) Subscribe(ctx context.Context, req Request) (<-chan *graphql.Result, error) {
	kind, err := Classify(req)
	if err != nil {
		return nil, err
	}
	if kind != OperationSubscription {
		return nil, fmt.Errorf("operation is a %s, not a subscription", kind)
	}

	var bridges sync.WaitGroup
	subCtx := context.WithValue(ctx, bridgeGroupKey{}, &bridges)

	results := graphql.Subscribe(graphql.Params{
		Schema:         e.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        subCtx,
	})

	out := make(chan *graphql.Result)
	go func() {
		defer close(out)
		for res := range results {
			if ctx.Err() != nil {
				continue
			}
			select {
			case out <- res:
			case <-ctx.Done():
				// keep draining so the executor goroutine can exit
			}
		}
		bridges.Wait()
	}()
	return out, nil
}

func (e *Engine) do(ctx context.Context, req Request) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         e.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})
}

// ErrorResult wraps errs as a GraphQL response with no data.
func ErrorResult(errs ...error) *graphql.Result {
	return &graphql.Result{Errors: gqlerrors.FormatErrors(errs...)}
}
