// Package api exposes the node's §6 HTTP surface over chi, plus a
// prometheus /metrics ambient endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"dsm-storage-node/internal/node"
)

// Server wires a chi router over a running Node.
type Server struct {
	Node   *node.Node
	Router chi.Router
}

// NewServer builds the full route table (spec §6) plus /metrics.
func NewServer(n *node.Node) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(n.Log))

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewNodeMetricsCollector(n))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	h := &handlers{n: n, startedAt: time.Now()}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/health", h.health)
		r.Get("/peers", h.listPeers)
		r.Post("/peers/join", h.joinPeer)
		r.Post("/peers/register", h.registerPeer)

		r.Route("/data/{key}", func(r chi.Router) {
			r.Get("/", h.getData)
			r.Post("/", h.putData)
			r.Delete("/", h.deleteData)
		})

		r.Post("/mpc/genesis", h.initiateGenesis)
		r.Post("/mpc/contribute", h.contributeGenesis)
		r.Post("/genesis/create", h.initiateGenesis)
		r.Post("/genesis/contribute", h.contributeGenesis)
		r.Get("/genesis/session/{id}", h.genesisSessionStatus)

		r.Post("/inbox/submit", h.inboxSubmit)
		r.Post("/inbox/retrieve", h.inboxRetrieve)
		r.Post("/inbox/acknowledge", h.inboxAcknowledge)
		r.Get("/inbox/{mailbox_id}/status", h.inboxStatus)

		r.Post("/contacts", h.addContact)
		r.Post("/chain-tips", h.updateChainTip)
		r.Post("/bilateral-state", h.createBilateralState)
		r.Get("/device/{id}", h.getDeviceIdentity)
		r.Post("/verify-chain", h.verifyChain)

		r.Post("/entries", h.receiveEntries)
		r.Post("/entries/request", h.requestEntries)
		r.Get("/entries", h.requestEntries)

		r.Get("/stream", h.stream)
	})

	return &Server{Node: n, Router: r}
}

// ListenAndServe blocks serving the route table on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.Router)
}

func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Debug("api: request")
			next.ServeHTTP(w, r)
		})
	}
}
