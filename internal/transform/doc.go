// Package transform применяет трансформации к JSON-подобным значениям.
//
// Трансформации чистые: вход никогда не изменяется, каждый вызов
// возвращает новое значение.
//
// Поддерживаемые операции:
//   - rename    — перенос значения from → to (отсутствующий from — no-op)
//   - flatten   — подъём ключей вложенного объекта наверх с префиксом
//   - nest      — сбор полей в новый объект
//   - filter    — {} если условие ложно
//   - compute   — поле = результат выражения
//   - aggregate — merge/concat/sum/average/count/group над массивом
package transform
