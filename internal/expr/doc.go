// Package expr — безопасный вычислитель выражений для условий и вычисляемых полей.
//
// Поддерживается только ограниченная грамматика:
//   - литералы: числа, 'строки', "строки", true, false, null
//   - пути к полям контекста через точку: current.temp_c, items.0.price
//   - сравнения: == != > < >= <=
//   - логика: && || !
//   - арифметика: + - * / (а также + для конкатенации строк)
//
// Вызовы функций не поддерживаются.
//
//	ok, err := expr.EvaluateBool("current.temp_c > 0 && location.country == 'UK'", data)
package expr
