package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"Evolve-Chain/internal/auth"
)

var (
	tokenSubject     string
	tokenTTL         time.Duration
	tokenPermissions []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发管理接口使用的 JWT",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "operator", "令牌主体")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "有效期")
	tokenCmd.Flags().StringSliceVarP(&tokenPermissions, "permission", "p", []string{auth.PermissionAdmin}, "授予的权限")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := auth.NewService(auth.Config{
		Mode:     auth.Mode(cfg.Auth.Mode),
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return err
	}
	if svc.Mode() != auth.ModeJWT {
		return errors.New("当前配置未启用 jwt 鉴权")
	}

	token, err := svc.Issue(&auth.Subject{
		ID:          tokenSubject,
		Username:    tokenSubject,
		Permissions: tokenPermissions,
	}, tokenTTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
