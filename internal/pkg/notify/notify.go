package notify

// Notifier 定义注册后的用户通知接口。
type Notifier interface {
	// SendWelcome 给新注册用户发送欢迎邮件。
	SendWelcome(toEmail string, name string) error
}
