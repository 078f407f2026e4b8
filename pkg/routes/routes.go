// Package routes declares HTTP endpoints as nested groups so the same table
// drives both mux registration and the API index.
package routes

import "net/http"

// Route binds an HTTP method and pattern to a handler. Pattern is relative
// to the enclosing group.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
	// Summary is a one-line description listed by Describe.
	Summary string
}

// Group collects routes and child groups under a shared prefix.
type Group struct {
	Prefix   string
	Routes   []Route
	Children []Group
}

// Endpoint is the public description of a registered route.
type Endpoint struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Summary string `json:"summary,omitempty"`
}

// Register adds every route in groups to mux as "METHOD path".
func Register(mux *http.ServeMux, groups ...Group) {
	walk("", groups, func(path string, r Route) {
		mux.HandleFunc(r.Method+" "+path, r.Handler)
	})
}

// Describe lists every route with its full path under base, in declaration
// order.
func Describe(base string, groups ...Group) []Endpoint {
	var out []Endpoint
	walk(base, groups, func(path string, r Route) {
		out = append(out, Endpoint{Method: r.Method, Path: path, Summary: r.Summary})
	})
	return out
}

func walk(parent string, groups []Group, fn func(path string, r Route)) {
	for _, g := range groups {
		prefix := parent + g.Prefix
		for _, r := range g.Routes {
			fn(prefix+r.Pattern, r)
		}
		walk(prefix, g.Children, fn)
	}
}
