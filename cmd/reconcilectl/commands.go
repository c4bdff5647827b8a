package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"workday-reconcile/backend/config"
	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/repository"
	"workday-reconcile/backend/internal/service"
	"workday-reconcile/backend/pkg/database"
	"workday-reconcile/backend/pkg/jwt"
	applogger "workday-reconcile/backend/pkg/logger"
)

// env 命令共用的依赖
type env struct {
	svc        *service.Service
	logger     *zap.Logger
	operatorID string
	close      func()
}

// bootstrap 加载配置并连接数据库；命令行不连接 Redis，处理锁降级为数据库行锁
func bootstrap(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	operatorID, _ := cmd.Flags().GetString("operator")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	repo := repository.NewRepository(db)
	svc := service.NewService(cfg, repo, jwt.NewManager(&cfg.Auth), nil, logger)

	return &env{
		svc:        svc,
		logger:     logger,
		operatorID: operatorID,
		close: func() {
			sqlDB.Close()
			logger.Sync()
		},
	}, nil
}

// signalContext Ctrl-C 时取消正在进行的批量操作
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ── import-sheet ──

func importSheetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-sheet <file.xlsx>",
		Short: "导入工时表格，写入对账行的表格侧",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("打开文件失败: %w", err)
			}
			defer f.Close()

			ctx, cancel := signalContext()
			defer cancel()

			result, err := e.svc.Sheet.Import(ctx, f, e.operatorID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "处理 %d 行：新建 %d，更新 %d，跳过 %d，失败 %d\n",
				result.Processed, result.Created, result.Updated, result.Skipped, len(result.Errors))
			for _, re := range result.Errors {
				fmt.Fprintf(out, "  第 %d 行: %s\n", re.Line, re.Reason)
			}
			return nil
		},
	}
}

// ── detect-duplicates ──

func detectDuplicatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect-duplicates",
		Short: "对未处理条目执行重复检测并写入重复信息",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := signalContext()
			defer cancel()

			result, err := e.svc.Ingestion.DetectDuplicates(ctx, e.operatorID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "扫描 %d 条，标记 %d 条，新附加 %d 条\n",
				result.Scanned, len(result.Flagged), result.Attached)
			for i, cluster := range result.Clusters {
				fmt.Fprintf(out, "  簇 %d: %v\n", i+1, cluster)
			}
			return nil
		},
	}
}

// ── reclassify ──

func reclassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reclassify",
		Short: "重新判定对账行状态",
		Long: `按日期范围重新判定对账行状态。默认只处理非终态行，
--all 时包括已确认的行（人工确认的 ok_manual 保持不变）。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			all, _ := cmd.Flags().GetBool("all")

			e, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := signalContext()
			defer cancel()

			result, err := e.svc.Reconciliation.Reclassify(ctx, &dto.ReclassifyRequest{
				From: from,
				To:   to,
				All:  all,
			}, e.operatorID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "扫描 %d 行，状态变化 %d 行，失败 %d 行\n",
				result.Scanned, result.Changed, result.Failed)
			return nil
		},
	}

	cmd.Flags().String("from", "", "起始日期 YYYY-MM-DD")
	cmd.Flags().String("to", "", "结束日期 YYYY-MM-DD")
	cmd.Flags().Bool("all", false, "包括终态行")

	return cmd
}
