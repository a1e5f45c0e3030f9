// Package config загружает конфигурацию сервисов apiflow.
//
// Порядок: значения по умолчанию → YAML-файл → переменные окружения.
//
//	server:
//	  port: 8080
//	engine:
//	  max_parallel: 4
//	  default_timeout_ms: 30000
//	simulation:
//	  enabled: false
//	log:
//	  level: INFO
//	  format: json
package config
