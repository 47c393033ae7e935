package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Prefix is the path under which the control endpoints are mounted.
const Prefix = "/_offline"

// Mount registers the control endpoints on r under Prefix.
func Mount(r chi.Router, oh *OfflineHandler, ih *InstallHandler) {
	r.Route(Prefix, func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "offlined"})
		})
		r.Get("/status", oh.GetStatus)

		r.Get("/queue", oh.ListQueue)
		r.Post("/queue", oh.Enqueue)
		r.Get("/queue/{id}", oh.GetOperation)

		r.Get("/sync", oh.GetSync)
		r.Post("/sync", oh.TriggerSync)

		r.Get("/connectivity", oh.GetConnectivity)
		r.Post("/connectivity", oh.SetConnectivity)

		r.Get("/entities", oh.ListEntities)
		r.Put("/entities", oh.PutEntities)

		r.Get("/cache", oh.GetCache)
		r.Delete("/cache", oh.EvictCache)

		r.Get("/install", ih.GetInstall)
		r.Post("/install/{event}", ih.HandleEvent)
	})
}
