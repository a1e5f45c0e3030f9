// Package engine понимает структуру workflow.
//
// Включает:
//   - graph.go    — валидация графа и топологический порядок (Kahn + DFS для циклов)
//   - parser.go   — разбор workflow из JSON/YAML
//   - template.go — подстановка плейсхолдеров {{var}}
//
// Engine не выполняет узлы: он отвечает за то, чтобы невалидный граф
// никогда не дошёл до оркестратора, и за детерминированный порядок обхода.
package engine
