// apiflow CLI — инструмент командной строки для workflows.
//
// Использование:
//
//	apiflow [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	validate FILE   Проверить граф workflow
//	run FILE        Выполнить workflow локально
//	export FILE     Опубликовать workflow в конфигурацию
//	import FILE     Восстановить workflow из конфигурации
//	remote          Работа с сервером apiflow
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/apiflow/internal/cli"
	"github.com/shaiso/apiflow/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "apiflow",
		Short:         "apiflow CLI — API integration workflows",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Логи движка идут в stderr, чтобы не мешать выводу данных
			slog.SetDefault(telemetry.NewLogger(os.Stderr, logLevel, "text"))
		},
	}

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("APIFLOW_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(cli.NewLocalCmds(outputFn)...)
	rootCmd.AddCommand(cli.NewRemoteCmd(clientFn, outputFn))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
