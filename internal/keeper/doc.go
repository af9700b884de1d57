// Package keeper 周期性地巡检所有资产，对冷却已结束的资产触发一次评估。
//
// 巡检使用 errgroup 限制并发，并通过令牌桶限制对预言机的访问频率。冷却中的
// 资产被静默跳过，其余错误会被记录、计数并按错误码决定是否告警。
package keeper
