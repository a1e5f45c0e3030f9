// Package cli реализует инструмент командной строки apiflow.
//
// # Обзор
//
// CLI работает в двух режимах:
//   - локально: validate, run, export, import выполняются над файлом
//     workflow (JSON или YAML) в процессе CLI, сервер не нужен
//   - remote: команды обращаются к apiflow API по HTTP
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для apiflow API. Инкапсулирует HTTP-запросы, разбор
// конвертов {"data": ...} и {"error": {...}}; ошибки API возвращаются
// как *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	workflows, err := client.ListWorkflows(ctx)
//
// ## Output
//
// Форматирование вывода: таблицы (text/tabwriter) по умолчанию, JSON с
// флагом --json. Данные идут в stdout, сообщения — в stderr:
//
//	apiflow run weather.yaml --json | jq .output
//
// ## Commands
//
//   - validate FILE, run FILE, export FILE, import FILE (NewLocalCmds)
//   - remote workflows [list|show|push|delete|export|import],
//     remote run|runs|show|cancel (NewRemoteCmd)
//
// Фабрики принимают clientFn и outputFn — замыкания, создающие Client и
// Output после парсинга PersistentFlags.
//
// run завершается с ErrRunFailed, если отчёт не success: код выхода
// процесса отражает итог run.
package cli
