package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LoginFailureTotal 登录失败次数（凭证错误）。
	LoginFailureTotal prometheus.Counter
	// RateLimitRejectedTotal 被限流拒绝的请求数。
	RateLimitRejectedTotal prometheus.Counter
	// UserRegisteredTotal 注册成功的用户数。
	UserRegisteredTotal prometheus.Counter
	// TaskCreatedTotal 创建成功的任务数。
	TaskCreatedTotal prometheus.Counter
	// TaskDeletedTotal 删除成功的任务数。
	TaskDeletedTotal prometheus.Counter

	initOnce sync.Once
)

// InitMetrics 注册 Prometheus 指标。多次调用只注册一次，方便测试。
func InitMetrics() {
	initOnce.Do(func() {
		LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_login_failure_total",
			Help: "Number of failed login attempts.",
		})
		RateLimitRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_ratelimit_rejected_total",
			Help: "Number of requests rejected by the auth rate limiter.",
		})
		UserRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_user_registered_total",
			Help: "Number of successfully registered users.",
		})
		TaskCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_task_created_total",
			Help: "Number of tasks created.",
		})
		TaskDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_task_deleted_total",
			Help: "Number of tasks deleted.",
		})

		prometheus.MustRegister(
			LoginFailureTotal,
			RateLimitRejectedTotal,
			UserRegisteredTotal,
			TaskCreatedTotal,
			TaskDeletedTotal,
		)
	})
}
