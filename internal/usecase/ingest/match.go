package ingest

import "strings"

const (
	// containmentMinLen — минимальная длина короткого имени для правила
	// вложенности, отсекает ложные срабатывания на коротких строках.
	containmentMinLen = 15
	// prefixWords — сколько первых слов сравнивается в правиле префикса.
	prefixWords = 5
	// prefixMinLen — минимальная длина совпавшего префикса.
	prefixMinLen = 10
	// searchFragmentLen — сколько символов нормализованного имени уходит
	// в поисковый запрос за кандидатами.
	searchFragmentLen = 50
)

// NormalizeName приводит имя товара к канонической форме для сравнения:
// нижний регистр, без кавычек, со схлопнутыми пробелами.
func NormalizeName(name string) string {
	lowered := strings.ToLower(name)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch r {
		case '\'', '"', '‘', '’', '“', '”':
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// IsSameProduct решает, описывают ли два свободных имени один и тот же товар.
// Правила в порядке убывания строгости: точное совпадение нормализованных
// имён; вложенность достаточно длинной строки; совпадение по границе слова
// ("Nike Air Max 1" против "Nike Air Max 1 'Panda'"); совпадение префикса из
// первых пяти слов (обрезанные и вариантные названия). Пороги длины
// ограничивают ложные срабатывания на коротких именах.
func IsSameProduct(existingName, newName string) bool {
	existingNorm := NormalizeName(existingName)
	newNorm := NormalizeName(newName)

	if existingNorm == newNorm {
		return true
	}

	shorter, longer := existingNorm, newNorm
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) >= containmentMinLen && strings.Contains(longer, shorter) {
		return true
	}
	if len(shorter) > prefixMinLen && strings.HasPrefix(longer, shorter+" ") {
		return true
	}

	existingPrefix := joinFirstWords(existingNorm, prefixWords)
	newPrefix := joinFirstWords(newNorm, prefixWords)
	return existingPrefix == newPrefix && len(existingPrefix) > prefixMinLen
}

// SearchFragment возвращает подстроку нормализованного имени для
// предварительной выборки кандидатов из хранилища.
func SearchFragment(name string) string {
	normalized := NormalizeName(name)
	runes := []rune(normalized)
	if len(runes) <= searchFragmentLen {
		return normalized
	}
	return string(runes[:searchFragmentLen])
}

func joinFirstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
