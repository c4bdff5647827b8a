package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reconcilectl",
		Short: "工时对账运维命令行",
		Long: `reconcilectl 直接连接对账数据库，用于批量导入工时表格、
执行重复检测以及重新判定对账行状态。配置读取方式与服务端一致。`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "配置文件路径（默认 ./config.yaml）")
	rootCmd.PersistentFlags().String("operator", "", "记录为操作人的操作员 ID")

	rootCmd.AddCommand(importSheetCmd())
	rootCmd.AddCommand(detectDuplicatesCmd())
	rootCmd.AddCommand(reclassifyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
