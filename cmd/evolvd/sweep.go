package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "对全部到期资产执行一次评估后退出",
	Long: `sweep 复用守护进程的组件执行一次巡检，并以 JSON 输出统计结果。

适合由外部调度器 (cron、Kubernetes CronJob) 定时触发；
内存登记表在进程间不保留资产，因此需要配合 SQL 登记表使用。`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.keeper.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
