// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"innovacollab/internal/config"
	"innovacollab/internal/handler"
	"innovacollab/internal/middleware"
	"innovacollab/internal/model"
	"innovacollab/internal/pipeline"
	"innovacollab/internal/repository"
	"innovacollab/internal/service"
	"innovacollab/pkg/database"
	"innovacollab/pkg/es"
	"innovacollab/pkg/esewa"
	"innovacollab/pkg/kafka"
	"innovacollab/pkg/llm"
	"innovacollab/pkg/log"
	"innovacollab/pkg/storage"
	"innovacollab/pkg/tika"
	"innovacollab/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与外部存储
	database.InitMySQL(cfg.Database.MySQL.DSN,
		&model.User{}, &model.UserProfile{}, &model.Room{}, &model.Enrollment{},
		&model.Payment{}, &model.StudyMaterial{}, &model.ChatSession{}, &model.ChatSummary{},
	)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	objectStore := storage.InitMinIO(cfg.MinIO)
	materialIndex, err := es.InitES(cfg.Elasticsearch)
	if err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	producer := kafka.InitProducer(cfg.Kafka)
	defer producer.Close()

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	roomRepo := repository.NewRoomRepository(database.DB)
	enrollmentRepo := repository.NewEnrollmentRepository(database.DB)
	paymentRepo := repository.NewPaymentRepository(database.DB)
	materialRepo := repository.NewMaterialRepository(database.DB)
	chatRepo := repository.NewChatRepository(database.DB)
	tokenBlacklist := repository.NewTokenBlacklist(database.RDB)
	paymentSessions := repository.NewPaymentSessionStore(database.RDB, cfg.Payment.SessionTTL)

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	// 单进程部署可以使用内存会话存储，多进程必须使用 Redis
	var chatStore repository.ChatSessionStore
	if cfg.Chat.Store == "memory" {
		memoryStore := repository.NewMemoryChatSessionStore(cfg.Chat.SessionTTL, cfg.Chat.MaxTurns)
		go memoryStore.Run(bgCtx, time.Minute)
		chatStore = memoryStore
	} else {
		chatStore = repository.NewRedisChatSessionStore(database.RDB, cfg.Chat.SessionTTL, cfg.Chat.LockTTL, cfg.Chat.MaxTurns)
	}
	log.Infof("聊天会话存储: %s", cfg.Chat.Store)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	tikaClient := tika.NewClient(cfg.Tika)
	llmClient := llm.NewClient(cfg.LLM)
	gateway := esewa.Config{
		ProductCode: cfg.Esewa.ProductCode,
		SecretKey:   cfg.Esewa.SecretKey,
		FormURL:     cfg.Esewa.FormURL,
		SuccessURL:  cfg.Esewa.SuccessURL,
		FailureURL:  cfg.Esewa.FailureURL,
	}

	userService := service.NewUserService(userRepo, tokenBlacklist, jwtManager)
	roomService := service.NewRoomService(roomRepo, enrollmentRepo)
	enrollmentService := service.NewEnrollmentService(roomRepo, enrollmentRepo, userRepo, materialRepo, cfg.Payment.SessionTTL)
	paymentService := service.NewPaymentService(paymentSessions, paymentRepo, enrollmentRepo, roomRepo, gateway, cfg.Esewa.VerifySignature)
	materialService := service.NewMaterialService(materialRepo, roomRepo, enrollmentRepo, objectStore, producer, materialIndex, cfg.Upload.MaterialMaxBytes)
	chatService := service.NewChatService(chatStore, chatRepo, roomRepo, enrollmentRepo, objectStore, llmClient, cfg.Chat)
	readerService := service.NewReaderService(tikaClient, cfg.Upload.ReadAloudMaxBytes, cfg.Upload.ReadAloudMaxChars)
	adminService := service.NewAdminService(userRepo, paymentRepo, enrollmentService)

	// 6. 初始化资料处理管道并启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(tikaClient, objectStore, materialIndex, materialRepo)
	go kafka.StartConsumer(bgCtx, cfg.Kafka, processor, database.RDB)

	// 7. 定期清理超时未支付的高级报名
	go runReconciler(bgCtx, cfg.Payment.ReconcileInterval, enrollmentService)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery(), middleware.BrowserSession(cfg.Session))

	authRequired := middleware.AuthMiddleware(jwtManager, userService)
	authOptional := middleware.OptionalAuth(jwtManager, userService)

	userHandler := handler.NewUserHandler(userService)
	roomHandler := handler.NewRoomHandler(roomService)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService)
	paymentHandler := handler.NewPaymentHandler(paymentService, cfg.Payment)
	materialHandler := handler.NewMaterialHandler(materialService, cfg.Upload.MaterialMaxBytes)
	chatHandler := handler.NewChatHandler(chatService, readerService, userService, jwtManager, cfg.Upload.ReadAloudMaxBytes)

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(authRequired)
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
				authed.GET("/me/enrollments", enrollmentHandler.ListMine)
				authed.GET("/me/rooms", roomHandler.MyRooms)
			}
		}

		rooms := apiV1.Group("/rooms")
		{
			rooms.GET("", roomHandler.List)
			rooms.GET("/:id", authOptional, roomHandler.Detail)

			member := rooms.Group("")
			member.Use(authRequired)
			{
				member.POST("", roomHandler.Create)
				member.POST("/:id/enroll/free", enrollmentHandler.EnrollFree)
				member.POST("/:id/enroll/premium", enrollmentHandler.EnrollPremium)
				member.POST("/:id/enrollments/:eid/checkout", paymentHandler.Checkout)
				member.GET("/:id/view", enrollmentHandler.RoomView)
				member.GET("/:id/chatbot", chatHandler.ChatbotEntry)
				member.GET("/:id/search", materialHandler.Search)

				member.POST("/:id/materials", materialHandler.Create)
				member.GET("/:id/materials/:mid", materialHandler.View)
				member.GET("/:id/materials/:mid/edit", materialHandler.EditData)
				member.PUT("/:id/materials/:mid", materialHandler.Update)
				member.DELETE("/:id/materials/:mid", materialHandler.Delete)
				member.GET("/:id/materials/:mid/download", materialHandler.Download)
				member.GET("/:id/materials/:mid/serve", materialHandler.Serve)
			}
		}

		// Chat 路由：匿名用户也可以使用通用助手
		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.POST("", authOptional, chatHandler.Chat)
			chatGroup.POST("/summaries", authRequired, chatHandler.SaveSummary)
			chatGroup.POST("/read-file", authRequired, chatHandler.ReadFile)
		}

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(authRequired, middleware.AdminAuthMiddleware())
		{
			adminHandler := handler.NewAdminHandler(adminService)
			admin.GET("/users/list", adminHandler.ListUsers)
			admin.GET("/payments", adminHandler.ListPayments)
			admin.POST("/reconcile", adminHandler.Reconcile)
		}
	}

	// WebSocket 与支付网关回调不在 /api/v1 下
	r.GET("/chat/ws/:token", chatHandler.Handle)
	r.GET("/payment/success", paymentHandler.Success)
	r.GET("/payment/failure", paymentHandler.Failure)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 停止后台消费者与定时任务
	cancelBg()

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// runReconciler 按固定间隔清理超时未支付的高级报名，直到 ctx 结束。
func runReconciler(ctx context.Context, interval time.Duration, enrollments service.EnrollmentService) {
	if interval <= 0 {
		log.Warnf("对账间隔未配置，跳过定时清理")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := enrollments.SweepStale(now); err != nil {
				log.Errorf("清理待支付报名失败: %v", err)
			}
		}
	}
}
