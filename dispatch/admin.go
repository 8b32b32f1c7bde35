package dispatch

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/internal/runtime/jsoncodec"
	"github.com/drblury/phaseflow/internal/runtime/resources"
	"github.com/drblury/phaseflow/phase"
)

// PhasesInfo lists the phase names of a bus.
type PhasesInfo struct {
	In  []string `json:"in"`
	Out []string `json:"out"`
}

// RuntimeInfo reports the bus identity and process resource usage.
type RuntimeInfo struct {
	BusID     string          `json:"bus_id"`
	Published int             `json:"published"`
	Usage     resources.Usage `json:"usage"`
}

type admin struct {
	bus     *bus.Bus
	tracker *resources.Tracker
}

// AdminHandler serves the admin API of b:
//
//	GET /api/servers          published endpoints and their inbound chains
//	GET /api/servers/{name}   one published endpoint
//	GET /api/phases           in and out phase order
//	GET /api/transports       registered transport names
//	GET /api/runtime          bus ID and process resource usage
func AdminHandler(b *bus.Bus) http.Handler {
	a := &admin{bus: b, tracker: resources.NewTracker()}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.cors)
	r.Route("/api", func(r chi.Router) {
		r.Get("/servers", a.listServers)
		r.Get("/servers/{name}", a.getServer)
		r.Get("/phases", a.phases)
		r.Get("/transports", a.transports)
		r.Get("/runtime", a.runtime)
	})
	return r
}

func (a *admin) listServers(w http.ResponseWriter, _ *http.Request) {
	published := a.bus.PublishedEndpoints()
	infos := make([]bus.ServerInfo, 0, len(published))
	for _, p := range published {
		infos = append(infos, p.Info())
	}
	a.writeJSON(w, infos)
}

func (a *admin) getServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, p := range a.bus.PublishedEndpoints() {
		if info := p.Info(); info.Name == name {
			a.writeJSON(w, info)
			return
		}
	}
	http.Error(w, "server not found", http.StatusNotFound)
}

func (a *admin) phases(w http.ResponseWriter, _ *http.Request) {
	pm := a.bus.PhaseManager()
	a.writeJSON(w, PhasesInfo{
		In:  phase.Names(pm.InPhases()),
		Out: phase.Names(pm.OutPhases()),
	})
}

func (a *admin) transports(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, a.bus.Transports().Registry().Names())
}

func (a *admin) runtime(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, RuntimeInfo{
		BusID:     a.bus.ID(),
		Published: len(a.bus.PublishedEndpoints()),
		Usage:     a.tracker.Snapshot(),
	})
}

func (a *admin) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, v); err != nil {
		a.bus.Logger().Error("Failed to encode admin response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// cors sets CORS headers for allowed origins and answers preflight requests.
func (a *admin) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := a.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *admin) allowedOrigin(requestOrigin string) string {
	for _, allowed := range a.bus.Config().AdminCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
