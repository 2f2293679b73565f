package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pranith684/TaskFlow/internal/api/auth"
	"github.com/pranith684/TaskFlow/internal/api/middleware"
	"github.com/pranith684/TaskFlow/internal/config"
	"github.com/pranith684/TaskFlow/internal/model"
	"github.com/pranith684/TaskFlow/internal/pkg/metrics"
	"github.com/pranith684/TaskFlow/internal/pkg/notify"
	"github.com/pranith684/TaskFlow/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端以及 Gin 路由引擎。任务存储只通过
// TaskStore 接口访问，接口的每个方法都要求所属用户 ID。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	auth      *auth.Handler
	taskStore TaskStore
	limiter   *ratelimit.Limiter
}

// TaskStats 按状态聚合的任务计数。JSON 字段名沿用既有前端契约。
type TaskStats struct {
	TotalTasks      int64 `json:"totalTasks"`
	CompletedTasks  int64 `json:"completedTasks"`
	PendingTasks    int64 `json:"pendingTasks"`
	InProgressTasks int64 `json:"inProgressTasks"`
}

// TaskStore 封装任务存储的访问。所有方法都以 userID 为强制条件，
// 跨用户查询在类型层面就不可表达。
type TaskStore interface {
	ListTasks(ctx context.Context, userID uint) ([]model.Task, error)
	CreateTask(ctx context.Context, task *model.Task) error
	UpdateTask(ctx context.Context, userID, taskID uint, updates map[string]interface{}) (*model.Task, error)
	DeleteTask(ctx context.Context, userID, taskID uint) error
	CountByStatus(ctx context.Context, userID uint) (TaskStats, error)
}

type dbTaskStore struct {
	db *gorm.DB
}

func (s dbTaskStore) ListTasks(ctx context.Context, userID uint) ([]model.Task, error) {
	tasks := []model.Task{}
	// MySQL 升序排序时 NULL 截止时间排在最前，维持既有行为。
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("deadline ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s dbTaskStore) CreateTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

func (s dbTaskStore) UpdateTask(ctx context.Context, userID, taskID uint, updates map[string]interface{}) (*model.Task, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", taskID, userID).
		First(&task).Error; err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&task).Updates(updates).Error; err != nil {
			return nil, err
		}
		// 重新读取，返回更新后的完整记录
		if err := s.db.WithContext(ctx).
			Where("id = ? AND user_id = ?", taskID, userID).
			First(&task).Error; err != nil {
			return nil, err
		}
	}
	return &task, nil
}

func (s dbTaskStore) DeleteTask(ctx context.Context, userID, taskID uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", taskID, userID).
		Delete(&model.Task{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s dbTaskStore) CountByStatus(ctx context.Context, userID uint) (TaskStats, error) {
	var stats TaskStats

	if err := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ?", userID).
		Count(&stats.TotalTasks).Error; err != nil {
		return TaskStats{}, err
	}
	if err := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND status = ?", userID, model.StatusCompleted).
		Count(&stats.CompletedTasks).Error; err != nil {
		return TaskStats{}, err
	}
	if err := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND status = ?", userID, model.StatusPending).
		Count(&stats.PendingTasks).Error; err != nil {
		return TaskStats{}, err
	}
	if err := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND status = ?", userID, model.StatusInProgress).
		Count(&stats.InProgressTasks).Error; err != nil {
		return TaskStats{}, err
	}
	return stats, nil
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true, // 唯一索引冲突翻译为 gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	emailNotifier := notify.NewEmailNotifier(&cfg.Email, logger)
	limiter := ratelimit.NewRedisLimiter(rdb, logger, "taskflow:ratelimit:auth:", cfg.App.RateLimit, cfg.App.RateBurst)

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		router:    r,
		auth:      auth.NewHandler(db, cfg.Security.JWTSecret, cfg.App.TokenTTL, emailNotifier, logger),
		taskStore: dbTaskStore{db: db},
		limiter:   limiter,
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与 Redis 连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	public := s.router.Group("/")
	public.Use(middleware.RateLimit(s.limiter, s.logger))
	public.POST("/register", s.auth.Register)
	public.POST("/login", s.auth.Login)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.POST("/logout", s.auth.Logout)
	authed.GET("/me", s.auth.Me)
	authed.POST("/change-password", s.auth.ChangePassword)
	authed.GET("/stats", s.handleStats)
	authed.GET("/getTodoList", s.handleListTodos)
	authed.POST("/addTodoList", s.handleAddTodo)
	authed.POST("/updateTodoList/:id", s.handleUpdateTodo)
	authed.DELETE("/deleteTodoList/:id", s.handleDeleteTodo)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// addTodoRequest 创建任务的请求参数。deadline 为宽松格式的字符串。
type addTodoRequest struct {
	Task     string `json:"task" binding:"required"`
	Status   string `json:"status" binding:"required"`
	Deadline string `json:"deadline"`
}

// updateTodoRequest 更新任务的请求参数，缺省字段保持不变。
type updateTodoRequest struct {
	Task     *string `json:"task"`
	Status   *string `json:"status"`
	Deadline *string `json:"deadline"`
}

// handleListTodos 返回当前用户的全部任务，按截止时间升序。
//
// GET /getTodoList
func (s *Server) handleListTodos(c *gin.Context) {
	userID := getUserID(c)

	tasks, err := s.taskStore.ListTasks(c.Request.Context(), uint(userID))
	if err != nil {
		s.logger.Error("list tasks failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch tasks"})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// handleAddTodo 创建一条新任务，归属当前用户。
//
// POST /addTodoList
func (s *Server) handleAddTodo(c *gin.Context) {
	var req addTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := getUserID(c)

	deadline, err := parseDeadline(req.Deadline)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deadline"})
		return
	}

	task := model.Task{
		UserID:   uint(userID),
		Task:     req.Task,
		Status:   req.Status,
		Deadline: deadline,
	}
	if err := s.taskStore.CreateTask(c.Request.Context(), &task); err != nil {
		s.logger.Error("create task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to add task"})
		return
	}

	metrics.TaskCreatedTotal.Inc()
	c.JSON(http.StatusCreated, task)
}

// handleUpdateTodo 更新任务字段并返回更新后的记录。
//
// 查询条件带 user_id，找不到与无权访问返回同一个 404，不泄露他人
// 任务是否存在。并发更新为 last-write-wins。
//
// POST /updateTodoList/:id
func (s *Server) handleUpdateTodo(c *gin.Context) {
	userID := getUserID(c)
	taskID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	var req updateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Task != nil {
		updates["task"] = *req.Task
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Deadline != nil {
		deadline, err := parseDeadline(*req.Deadline)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deadline"})
			return
		}
		updates["deadline"] = deadline
	}

	task, err := s.taskStore.UpdateTask(c.Request.Context(), uint(userID), uint(taskID), updates)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		s.logger.Error("update task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to update task"})
		return
	}

	c.JSON(http.StatusOK, task)
}

// handleDeleteTodo 删除当前用户的一条任务。
//
// DELETE /deleteTodoList/:id
func (s *Server) handleDeleteTodo(c *gin.Context) {
	userID := getUserID(c)
	taskID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	if err := s.taskStore.DeleteTask(c.Request.Context(), uint(userID), uint(taskID)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		s.logger.Error("delete task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete task"})
		return
	}

	metrics.TaskDeletedTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"message": "task deleted successfully"})
}

// handleStats 返回当前用户的任务统计。
//
// 未知状态只计入 totalTasks，不落入任何分桶。
//
// GET /stats
func (s *Server) handleStats(c *gin.Context) {
	userID := getUserID(c)

	stats, err := s.taskStore.CountByStatus(c.Request.Context(), uint(userID))
	if err != nil {
		s.logger.Error("fetch stats failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch dashboard stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// deadlineLayouts 依次尝试的截止时间格式。前端会提交不带秒或时区的
// datetime-local 值，这里保持宽松解析。
var deadlineLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseDeadline 解析截止时间字符串，空串表示没有截止时间。
func parseDeadline(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New("unrecognized deadline format")
}

func getUserID(c *gin.Context) int {
	return c.GetInt("userID")
}
