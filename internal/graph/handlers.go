package graph

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/postfeed/internal/httputil"
)

const maxRequestBody = 1 << 20 // 1 MB

// Handlers serves one-shot queries and mutations over HTTP.
type Handlers struct {
	engine *Engine
}

// NewHandlers creates a new Handlers.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// RegisterRoutes wires the GraphQL HTTP endpoint. The websocket upgrade on
// GET /graphql has to be registered before this.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/graphql", h.Post).Methods(http.MethodPost)
	r.HandleFunc("/graphql", h.Get).Methods(http.MethodGet)
}

// Post handles POST /graphql with a JSON {query, operationName, variables} body.
func (h *Handlers) Post(w http.ResponseWriter, r *http.Request) {
	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.serve(w, r, req, true)
}

// Get handles GET /graphql?query=...&operationName=...&variables=... for
// queries only.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := Request{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
	}
	if raw := q.Get("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid variables: "+err.Error())
			return
		}
	}
	h.serve(w, r, req, false)
}

func (h *Handlers) serve(w http.ResponseWriter, r *http.Request, req Request, allowMutation bool) {
	kind, err := Classify(req)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, ErrorResult(err))
		return
	}

	switch {
	case kind == OperationSubscription:
		httputil.WriteJSON(w, http.StatusBadRequest, ErrorResult(ErrSubscriptionTransport))
		return
	case kind == OperationMutation && !allowMutation:
		w.Header().Set("Allow", http.MethodPost)
		httputil.WriteError(w, http.StatusMethodNotAllowed, "mutations must be sent with POST")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, h.engine.do(r.Context(), req))
}
