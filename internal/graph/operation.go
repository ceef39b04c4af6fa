package graph

import (
	"errors"
	"fmt"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// OperationKind is the root type an operation runs against.
type OperationKind string

const (
	OperationQuery        OperationKind = "query"
	OperationMutation     OperationKind = "mutation"
	OperationSubscription OperationKind = "subscription"
)

// Request is a GraphQL operation document plus its inputs, shared by the
// HTTP and websocket transports.
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// Classify parses the document and returns the kind of the operation that
// req selects.
func Classify(req Request) (OperationKind, error) {
	if req.Query == "" {
		return "", errors.New("query document is empty")
	}

	doc, err := parser.Parse(parser.ParseParams{Source: req.Query})
	if err != nil {
		return "", err
	}

	var ops []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			ops = append(ops, op)
		}
	}

	switch {
	case len(ops) == 0:
		return "", errors.New("document contains no operations")
	case req.OperationName == "":
		if len(ops) > 1 {
			return "", errors.New("operationName is required when the document has several operations")
		}
		return kindOf(ops[0])
	}

	for _, op := range ops {
		if op.Name != nil && op.Name.Value == req.OperationName {
			return kindOf(op)
		}
	}
	return "", fmt.Errorf("unknown operation named %q", req.OperationName)
}

func kindOf(op *ast.OperationDefinition) (OperationKind, error) {
	switch kind := OperationKind(op.Operation); kind {
	case OperationQuery, OperationMutation, OperationSubscription:
		return kind, nil
	case "":
		return OperationQuery, nil
	default:
		return "", fmt.Errorf("unsupported operation type %q", op.Operation)
	}
}
