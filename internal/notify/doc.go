// Package notify 将进化变更广播给外部系统。
//
// Notifier 实现 evolution.Sink，把每次变更转成带 UUID 的 Event 后依次投递给
// 所有已配置的 Sink（日志、内存、Redis、RabbitMQ、SQL 流水）。投递失败只会被
// 记录和计数，不会影响触发变更的评估请求。
package notify
