package httpapi

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"kirakira/backend/internal/storage"
)

func NewRouter(h Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(limitBody(h.cfg.MaxBodyBytes))

	r.Get("/health", h.Health)

	if local, ok := h.objects.(*storage.Local); ok {
		files := http.StripPrefix(storage.LocalURLPrefix, http.FileServer(filesOnly{http.Dir(local.Root())}))
		r.Handle(storage.LocalURLPrefix+"/*", files)
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(authR chi.Router) {
			authR.Post("/register", h.Register)
			authR.Post("/login", h.Login)
			authR.Post("/logout", h.Logout)
			authR.Get("/me", h.Me)
			authR.Get("/google", h.GoogleLogin)
			authR.Get("/google/callback", h.GoogleCallback)

			authR.Group(func(p chi.Router) {
				p.Use(h.RequireAuth)
				p.Delete("/account", h.DeleteAccount)
				p.Patch("/name", h.Rename)
				p.Post("/avatar", h.UpdateAvatar)
			})
		})

		api.Route("/characters", func(c chi.Router) {
			c.Get("/public", h.PublicCharacters)
			c.With(h.RequireAuth).Get("/my", h.MyCharacters)
			c.With(h.OptionalAuth).Get("/{id}", h.GetCharacter)

			c.Group(func(p chi.Router) {
				p.Use(h.RequireAuth)
				p.Post("/", h.CreateCharacter)
				p.Put("/{id}", h.UpdateCharacter)
				p.Delete("/{id}", h.DeleteCharacter)
			})
		})

		api.Group(func(p chi.Router) {
			p.Use(h.RequireAuth)

			p.Route("/chat", func(chat chi.Router) {
				chat.Post("/", h.Chat)
				chat.Post("/image", h.GenerateImage)
				chat.Get("/{conversationId}/messages", h.ConversationMessages)
				chat.Delete("/messages/{messageId}", h.DeleteMessage)
			})

			p.Route("/conversations", func(conv chi.Router) {
				conv.Get("/", h.ListConversations)
				conv.Get("/count", h.CountConversations)
				conv.Delete("/cleanup/expired", h.CleanupExpiredConversations)
				conv.Delete("/{id}", h.DeleteConversation)
			})

			p.Get("/usage", h.Usage)
			p.Post("/upload", h.Upload)
		})
	})

	return r
}

// filesOnly hides directories so the upload tree cannot be listed.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}
