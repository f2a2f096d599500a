package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Group is a set of endpoints that share a CLI parent command, e.g.
// "shrinkify api runs ...". Groups do not affect HTTP paths.
type Group struct {
	Name      string
	Short     string
	Endpoints []Endpoint
}

// Registry is the single table of endpoints. The server mounts its routes
// and the CLI mounts its commands from the same registry.
type Registry struct {
	top    []Endpoint
	groups []Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds endpoints whose commands sit directly under the api command.
func (r *Registry) Register(eps ...Endpoint) {
	r.top = append(r.top, eps...)
}

// RegisterGroup adds endpoints whose commands sit under a group command.
func (r *Registry) RegisterGroup(name, short string, eps ...Endpoint) {
	r.groups = append(r.groups, Group{Name: name, Short: short, Endpoints: eps})
}

// Endpoints returns every endpoint, top level first, then by group.
func (r *Registry) Endpoints() []Endpoint {
	all := append([]Endpoint(nil), r.top...)
	for _, g := range r.groups {
		all = append(all, g.Endpoints...)
	}
	return all
}

// RegisterRoutes mounts every endpoint on mux. Handlers of endpoints that
// need the backends are wrapped with initMiddleware.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.Endpoints() {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// AddCommands attaches one command per endpoint to parent, creating a
// subcommand per group. getServerURL is evaluated when a command runs.
func (r *Registry) AddCommands(parent *cobra.Command, getServerURL func() string) {
	for _, ep := range r.top {
		parent.AddCommand(ep.Command(getServerURL))
	}
	for _, g := range r.groups {
		groupCmd := &cobra.Command{Use: g.Name, Short: g.Short}
		for _, ep := range g.Endpoints {
			groupCmd.AddCommand(ep.Command(getServerURL))
		}
		parent.AddCommand(groupCmd)
	}
}
