package main

import (
	"fmt"
	"os"

	conf "github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/internal/dashboard"
	"github.com/abcfe/abcfe-wallet/session"
	"github.com/spf13/cobra"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"

	configFile string
	host       string
	port       int
	refresh    int
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "abcfe-dashboard",
		Short: "ABCFe 지갑 백그라운드 모니터링 대시보드",
		Long: `ABCFe Dashboard - 지갑 백그라운드 실시간 모니터링 TUI

키링 상태, 대기 중인 dapp 요청, 로그를 한 화면에서 확인하고
잠금/해제와 권한 요청 승인을 처리합니다.

사용 예시:
  abcfe-dashboard                        # 설정 파일의 포트 사용
  abcfe-dashboard --port 7761            # 다른 포트
  abcfe-dashboard -c ./config/dev.toml   # 다른 설정 파일`,
		Run: func(cmd *cobra.Command, args []string) {
			runDashboard()
		},
	}

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "설정 파일 경로")
	rootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "백그라운드 호스트 주소")
	rootCmd.Flags().IntVar(&port, "port", 0, "백그라운드 포트 (기본: 설정 파일)")
	rootCmd.Flags().IntVar(&refresh, "refresh", 1, "새로고침 간격 (초)")

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "버전 정보 출력",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ABCFe Dashboard v%s (built: %s)\n", Version, BuildTime)
		},
	}
}

func runDashboard() {
	cfg, err := conf.NewConfig(configFile)
	if err != nil {
		cfg = conf.Default()
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	config := dashboard.Config{
		Host:       host,
		Port:       port,
		Session:    session.OptionsFromConfig(cfg),
		Endpoint:   fmt.Sprintf("ws://%s:%d", host, port),
		LogPath:    cfg.LogInfo.Path,
		RefreshSec: refresh,
	}

	if err := dashboard.Run(config); err != nil {
		fmt.Printf("Dashboard error: %v\n", err)
		os.Exit(1)
	}
}
