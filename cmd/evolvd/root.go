package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"Evolve-Chain/internal/config"
)

// configEnv 指定配置文件路径的环境变量，优先级低于 --config。
const configEnv = "EVOLVE_CONFIG"

var (
	defaultConfigPath = filepath.Join("configs", "evolve.json")

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "evolvd",
	Short: "Evolve 资产进化守护进程",
	Long: `evolvd 根据价格预言机的信号驱动资产在五个阶段之间进化或退化。

配置文件为 JSON，可被 EVOLVE_* 环境变量覆盖。`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认读取 $EVOLVE_CONFIG 或 configs/evolve.json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

// resolveConfigPath 依次使用命令行参数、环境变量与默认路径；默认文件不存在时只读取环境变量。
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}
