package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/directory"
	"github.com/DoyleJ11/kart-party/internal/hub"
	"github.com/DoyleJ11/kart-party/internal/ws"
)

type Options struct {
	Directory directory.Directory
	Hub       *hub.Hub
	// AllowedOrigins applies to both CORS and the websocket origin check.
	// Empty means any origin.
	AllowedOrigins []string
	Logger         *zap.Logger
}

func SetupRoutes(o Options) http.Handler {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	origins := o.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/party-codes", func(r chi.Router) {
		r.Post("/create/", CreatePartyCode(o.Directory, log))
		r.Get("/lookup/{code}/", LookupPartyCode(o.Directory, log))
	})
	r.Get("/healthz", Healthz)
	if o.Hub != nil {
		r.Get("/ws", ws.Handler(o.Hub, origins, o.Logger))
	}
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
