package routes

import (
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/config"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/handlers"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/middleware"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/repository"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/services"
	chatws "github.com/Rifat-Hossain49/MediMitro-sub001/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Dependencies are the process-wide collaborators built in main.
type Dependencies struct {
	DB        repository.DBTX
	Hub       *chatws.Hub
	Publisher services.EventPublisher
	Logger    *zap.Logger
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, deps Dependencies) error {
	messageRepo := repository.NewMessageRepository(deps.DB)
	conversationRepo := repository.NewConversationRepository(deps.DB)
	appointmentRepo := repository.NewAppointmentRepository(deps.DB)

	storageService := newStorageService(app, cfg, deps.Logger)

	publisher := deps.Publisher
	if publisher == nil {
		publisher = deps.Hub
	}

	chatService := services.NewChatService(
		messageRepo,
		conversationRepo,
		appointmentRepo,
		storageService,
		publisher,
		deps.Logger,
		cfg.MaxAttachmentBytes,
	)
	chatHandler := handlers.NewChatHandler(chatService, deps.Hub, cfg.JWTSecret)
	fileHandler := handlers.NewFileHandler(chatService)

	if err := registerDocsRoutes(app, cfg); err != nil {
		return err
	}

	api := app.Group("/api")

	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	messaging := authProtected.Group("/messaging")
	messaging.Get("/conversations", chatHandler.ListConversations)
	messaging.Post("/conversations", chatHandler.OpenConversation)
	messaging.Get("/unread-count", chatHandler.UnreadCount)
	messaging.Get("/conversations/:doctorId/:patientId/messages", chatHandler.GetMessages)
	messaging.Post("/conversations/:doctorId/:patientId/read", chatHandler.MarkRead)
	messaging.Post("/messages", middleware.SendRateLimiter(), chatHandler.SendMessage)
	messaging.Get("/messages/:messageId/attachment-link", chatHandler.AttachmentLink)
	messaging.Put("/read/:messageId", chatHandler.MarkMessageRead)

	files := authProtected.Group("/files")
	files.Post("/upload", middleware.UploadRateLimiter(), fileHandler.Upload)

	return nil
}

// newStorageService prefers Supabase and falls back to a local directory.
// With neither configured attachments are rejected.
func newStorageService(app *fiber.App, cfg *config.Config, log *zap.Logger) services.StorageService {
	switch {
	case cfg.SupabaseConfigured():
		return services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey)
	case cfg.UploadDir != "":
		local := services.NewLocalStorageService(cfg.UploadDir, cfg.PublicBaseURL)
		app.Static("/uploads", local.Dir(), fiber.Static{ByteRange: true})
		return local
	default:
		if log != nil {
			log.Warn("no attachment storage configured, uploads will be rejected")
		}
		return nil
	}
}
