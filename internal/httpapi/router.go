package httpapi

import (
	"net/http"
	"time"

	"agentnet/internal/share"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(serverErrorLoggerMiddleware)
	r.Use(corsMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(newIPRateLimiter(120, time.Minute).middleware)
	r.Use(middleware.Heartbeat("/healthz"))

	s := server{
		store: d.Store,
		pend:  d.Pending,
		tw:    d.Twitter,
		media: d.Media,

		pepper:        d.Pepper,
		publicBaseURL: d.PublicBaseURL,
		encryptionKey: d.EncryptionKey,

		consumer: d.TwitterConsumer,
		rewards:  d.Rewards,
	}
	s.pub = &share.Publisher{
		API:         d.Twitter,
		Ledger:      d.Store,
		Media:       d.Media,
		Recorder:    d.Store,
		SharePoints: d.Rewards.ImageShare,
	}

	r.Route("/v1", func(r chi.Router) {
		// Wallet login (challenge/response, no prior auth).
		r.Post("/auth/wallet/challenge", s.handleWalletChallenge)
		r.Post("/auth/wallet/verify", s.handleWalletVerify)

		// Username/password accounts.
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		// Unauthenticated: the browser lands here after authorizing; the
		// handshake state identifies the user.
		r.Get("/auth/twitter/callback", s.handleTwitterCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.userAuthMiddleware)
			r.Get("/me", s.handleGetMe)

			r.Get("/auth/twitter/start", s.handleTwitterStart)
			r.Get("/auth/twitter/validate", s.handleTwitterValidate)
			r.Delete("/auth/twitter", s.handleTwitterDisconnect)

			r.Get("/points", s.handleGetPoints)
			r.Post("/points/check-in", s.handleCheckIn)
			r.Get("/points/check-in", s.handleCheckInStatus)
			r.Post("/points/first-conversation", s.handleFirstConversation)
			r.Get("/points/first-conversation", s.handleFirstConversationStatus)
			r.Get("/points/history", s.handlePointsHistory)
			r.Get("/points/total-usage", s.handleTotalUsage)

			r.Post("/share/twitter", s.handleShareTwitter)
		})
	})

	return r
}
