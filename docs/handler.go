package docs

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/postfeed/internal/graph"
)

// RegisterRoutes serves the schema SDL and a GraphiQL page.
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/graphql/schema", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/graphql; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Write([]byte(graph.SchemaSDL))
	}).Methods("GET")

	r.HandleFunc("/graphiql", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(graphiQLHTML))
	}).Methods("GET")
}

const graphiQLHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>postfeed GraphiQL</title>
  <link rel="stylesheet" href="https://unpkg.com/graphiql@3/graphiql.min.css">
  <style>body { margin: 0; height: 100vh; } #graphiql { height: 100vh; }</style>
</head>
<body>
  <div id="graphiql"></div>
  <script crossorigin src="https://unpkg.com/react@18/umd/react.production.min.js"></script>
  <script crossorigin src="https://unpkg.com/react-dom@18/umd/react-dom.production.min.js"></script>
  <script crossorigin src="https://unpkg.com/graphiql@3/graphiql.min.js"></script>
  <script>
    const httpURL = window.location.origin + '/graphql';
    const wsURL = httpURL.replace(/^http/, 'ws');

    function subscribe(params) {
      return {
        [Symbol.asyncIterator]() {
          const socket = new WebSocket(wsURL, 'graphql-ws');
          const queue = [];
          let waiting = null;
          let finished = false;
          const push = (item) => {
            if (waiting) { waiting(item); waiting = null; } else { queue.push(item); }
          };
          socket.onopen = () => {
            socket.send(JSON.stringify({ type: 'connection_init' }));
            socket.send(JSON.stringify({ id: '1', type: 'start', payload: params }));
          };
          socket.onmessage = (e) => {
            const msg = JSON.parse(e.data);
            if (msg.type === 'next') push({ value: msg.payload, done: false });
            if (msg.type === 'error') push({ value: { errors: msg.payload }, done: false });
            if (msg.type === 'complete' || msg.type === 'error') { finished = true; push({ done: true }); }
          };
          socket.onclose = () => { if (!finished) push({ done: true }); };
          return {
            next() {
              if (queue.length) return Promise.resolve(queue.shift());
              return new Promise((resolve) => { waiting = resolve; });
            },
            return() {
              socket.send(JSON.stringify({ id: '1', type: 'stop' }));
              socket.close();
              return Promise.resolve({ done: true });
            },
          };
        },
      };
    }

    async function fetcher(params) {
      if (/^\s*subscription\b/.test(params.query)) return subscribe(params);
      const res = await fetch(httpURL, {
        method: 'POST',
        headers: { 'Content-Type': 'application/json' },
        body: JSON.stringify(params),
      });
      return res.json();
    }

    ReactDOM.createRoot(document.getElementById('graphiql'))
      .render(React.createElement(GraphiQL, { fetcher }));
  </script>
</body>
</html>`
