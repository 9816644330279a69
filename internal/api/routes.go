package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

var defaultOrigins = []string{"http://localhost:3000", "http://localhost:8080"}

// SetupRoutes builds the router. health may be nil.
func SetupRoutes(h *Handlers, health *HealthChecker, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(origins) == 0 {
		origins = defaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}

	// Google push notifications and subscribed calendar apps reach these
	// without an API session.
	r.Post("/webhooks/calendar", h.CalendarWebhook)
	r.Get("/feeds/{familyID}.ics", h.GetFeed)

	r.Route("/api/families/{familyID}", func(r chi.Router) {
		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/", h.CreateEvent)
			r.Get("/{eventID}", h.GetEvent)
			r.Patch("/{eventID}", h.UpdateEvent)
			r.Delete("/{eventID}", h.DeleteEvent)
			r.Post("/{eventID}/confirm", h.ConfirmEvent)
		})

		r.Route("/mailboxes", func(r chi.Router) {
			r.Get("/", h.ListMailboxes)
			r.Post("/", h.ConnectMailbox)
			r.Post("/{mailboxID}/scan", h.ScanMailbox)
			r.Get("/{mailboxID}/messages", h.ListCandidates)
		})

		r.Route("/filters", func(r chi.Router) {
			r.Get("/", h.ListFilters)
			r.Put("/", h.SetFilter)
			r.Delete("/{filterID}", h.DeleteFilter)
		})

		r.Get("/people", h.ListPeople)
		r.Put("/people", h.ReplacePeople)

		r.Route("/calendar", func(r chi.Router) {
			r.Put("/", h.ConnectCalendar)
			r.Post("/sync", h.SyncCalendar)
			r.Post("/pull", h.PullCalendar)
			r.Post("/watch", h.RenewWatch)
		})

		r.Post("/feed/publish", h.PublishFeed)
	})

	return r
}
