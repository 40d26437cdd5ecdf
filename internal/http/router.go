package http

import (
	"net/http"
	"strings"
)

type RouterConfig struct {
	Consultations *ConsultationHandler
	Messages      *MessageHandler
	Realtime      *WSHandler
	Middleware    []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Consultations != nil {
		mux.HandleFunc("/consultations", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Consultations.List(w, r)
			case http.MethodPost:
				cfg.Consultations.Create(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/consultations/", func(w http.ResponseWriter, r *http.Request) {
			id, action := splitConsultationPath(r.URL.Path)
			if id == "" {
				http.NotFound(w, r)
				return
			}

			ctx := ContextWithConsultationID(r.Context(), id)
			r = r.WithContext(ctx)

			switch action {
			case "":
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Consultations.Get(w, r)
			case "start", "end", "cancel":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Consultations.Transition(w, r, action)
			case "messages":
				if cfg.Messages == nil {
					http.NotFound(w, r)
					return
				}
				switch r.Method {
				case http.MethodGet:
					cfg.Messages.List(w, r)
				case http.MethodPost:
					cfg.Messages.Send(w, r)
				default:
					methodNotAllowed(w, http.MethodGet, http.MethodPost)
				}
			case "ws":
				if cfg.Realtime == nil {
					http.NotFound(w, r)
					return
				}
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Realtime.Serve(w, r)
			default:
				http.NotFound(w, r)
			}
		})
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

// splitConsultationPath breaks "/consultations/{id}[/{action}]" into its
// id and optional action segment.
func splitConsultationPath(path string) (id, action string) {
	rest := strings.TrimPrefix(path, "/consultations/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
