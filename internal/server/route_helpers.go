package server

import (
	"net/http"
)

// RouteHandler is the handler function type used by the route table.
type RouteHandler func(http.ResponseWriter, *http.Request)

// MethodRouter maps HTTP methods to handlers.
type MethodRouter map[string]RouteHandler

// RouteByMethod dispatches on the HTTP method, answering 405 with an
// Allow header for anything unmapped.
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	handler, ok := routes[r.Method]
	if !ok {
		for method := range routes {
			w.Header().Add("Allow", method)
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler(w, r)
}

// methodHandler binds a single method to a handler.
func methodHandler(method string, handler RouteHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{method: handler})
	}
}

// RouteResourceCollection handles the list + create pattern.
func RouteResourceCollection(w http.ResponseWriter, r *http.Request, list, create RouteHandler) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:  list,
		http.MethodPost: create,
	})
}

// RouteResourceItem handles the get + update + delete pattern.
func RouteResourceItem(w http.ResponseWriter, r *http.Request, get, update, delete RouteHandler) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    get,
		http.MethodPut:    update,
		http.MethodDelete: delete,
	})
}
