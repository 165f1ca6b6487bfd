package main

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JoeShih716/go-bank-ledger/internal/config"
)

// state 各子命令共用的設定與 logger
type state struct {
	cfgPath string
	envFile string
	cfg     *config.Config
	log     *slog.Logger
}

// Execute 執行 CLI
func Execute() {
	pterm.Error.Prefix = pterm.Prefix{
		Text:  " ERROR ",
		Style: pterm.NewStyle(pterm.BgLightRed, pterm.FgBlack),
	}

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	st := &state{}

	rootCmd := &cobra.Command{
		Use:           "bankd",
		Short:         "bankd runs the bank account ledger service",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.init(cmd, out)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&st.cfgPath, "config", "c", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&st.envFile, "env-file", ".env", "dotenv file loaded before the environment overlay")

	rootCmd.AddCommand(newServeCmd(st))
	rootCmd.AddCommand(newMigrateCmd(st))
	rootCmd.AddCommand(newApplyCmd(st))

	return rootCmd
}

func (st *state) init(cmd *cobra.Command, out io.Writer) error {
	// .env 只在本機開發時存在
	if err := godotenv.Load(st.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	cfg, err := config.Load(st.cfgPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	st.cfg = cfg
	st.log = newLogger(cfg.Log, out)
	slog.SetDefault(st.log)
	return nil
}

// newLogger 依設定建立 JSON 或 text 格式的 slog.Logger
func newLogger(cfg config.LogConfig, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler).With(slog.String("service", "bankd"))
}
