// Package validation содержит функции валидации входных данных.
package validation

import (
	"regexp"
	"unicode"
)

var platePattern = regexp.MustCompile(`^[A-Z]{3}-[0-9]{4}$`)

// IsValidCPF проверяет корректность CPF по контрольным цифрам (модуль 11).
func IsValidCPF(cpf string) bool {
	if len(cpf) != 11 {
		return false
	}

	digits := make([]int, 11)
	allEqual := true
	for i, ch := range cpf {
		if !unicode.IsDigit(ch) {
			return false
		}
		digits[i] = int(ch - '0')
		if digits[i] != digits[0] {
			allEqual = false
		}
	}

	// CPF из одинаковых цифр проходит проверку по модулю, но недействителен.
	if allEqual {
		return false
	}

	if checkDigit(digits, 9) != digits[9] {
		return false
	}

	return checkDigit(digits, 10) == digits[10]
}

// checkDigit вычисляет контрольную цифру по первым n цифрам CPF.
func checkDigit(digits []int, n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += digits[i] * (n + 1 - i)
	}

	rest := sum * 10 % 11
	if rest == 10 {
		rest = 0
	}
	return rest
}

// IsValidPlate проверяет номерной знак автомобиля по шаблону 'XXX-0000'.
func IsValidPlate(plate string) bool {
	return platePattern.MatchString(plate)
}
