package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/config"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/mailer"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/permission"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/repository"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/scoring"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/stats"
	"github.com/sysu-ecnc-dev/dkn/backend/internal/workflow"
)

type Handler struct {
	validate    *validator.Validate
	config      *config.Config
	repository  *repository.Repository
	translator  ut.Translator
	mailer      workflow.Notifier
	redisClient *redis.Client
	metrics     *metrics.Metrics

	knowledge *workflow.Service
	stats     *stats.Aggregator
	analyzer  *scoring.Analyzer

	Mux *chi.Mux
}

// NewHandler 中 publisher 为 nil 时不发送任何邮件
func NewHandler(cfg *config.Config, repo *repository.Repository, publisher *mailer.Publisher, rdb *redis.Client, m *metrics.Metrics) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	en := en.New()
	uni := ut.New(en, en)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	var notifier workflow.Notifier
	if publisher != nil {
		notifier = publisher
	}

	aggregator := stats.NewAggregator(repo)

	return &Handler{
		validate:    validate,
		config:      cfg,
		repository:  repo,
		translator:  trans,
		mailer:      notifier,
		redisClient: rdb,
		metrics:     m,

		knowledge: workflow.NewService(repo, aggregator, notifier, m),
		stats:     aggregator,
		analyzer:  scoring.NewAnalyzer(repo, scoring.MockScorer{}, m),

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)

	h.Mux.Get("/healthz", h.Healthz)
	if h.metrics != nil {
		h.Mux.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	// 认证相关
	h.Mux.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
		r.With(h.auth).Post("/logout", h.Logout)
	})

	// 以下 API 必须要在登录后才允许调用
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.auth)

		r.Route("/my-info", func(r chi.Router) {
			r.Use(h.myInfo)
			r.Get("/", h.GetMyInfo)
			r.Get("/permissions", h.GetMyPermissions)
			r.Patch("/password", h.UpdateMyPassword)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(h.requirePermission(permission.UsersManage))
			r.Get("/", h.GetAllUserInfo)
			r.Post("/", h.CreateUser)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.userInfo)
				r.Get("/", h.GetUserInfo)
				r.With(h.preventOperateInitialAdmin).Delete("/", h.DeleteUser)
			})
		})

		r.Route("/knowledge", func(r chi.Router) {
			r.Get("/", h.ListKnowledge)
			r.Post("/", h.CreateKnowledge)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.knowledgeID)
				r.Get("/", h.GetKnowledge)
				r.Get("/rendered", h.GetRenderedKnowledge)
				r.Patch("/", h.UpdateKnowledge)
				r.Delete("/", h.DeleteKnowledge)
				r.Post("/approve", h.ApproveKnowledge)
				r.Post("/reject", h.RejectKnowledge)
				r.Post("/authorize", h.AuthorizeKnowledge)
				r.Get("/rejections", h.GetKnowledgeRejections)
			})
		})

		r.Route("/platform/stats", func(r chi.Router) {
			r.Get("/", h.GetPlatformStats)
			r.With(h.requirePermission(permission.PlatformMetrics)).Post("/refresh", h.RefreshPlatform)
		})

		r.Route("/ai", func(r chi.Router) {
			r.Route("/analyze/{resourceId}", func(r chi.Router) {
				r.Post("/", h.AnalyzeKnowledge)
				r.Get("/", h.GetKnowledgeAnalysis)
			})
			r.Get("/modules", h.GetAIModules)
		})
	})
}
