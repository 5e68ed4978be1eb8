package alerts

import (
	"fmt"
	"strings"
	"time"

	"hype-hunter/internal/domain"
)

// Форматирование — презентационный слой канала Telegram (MarkdownV2).
// Решение «слать или нет» принимается отдельно и этих функций не касается.

// FormatRestockAlert собирает текст уведомления о рестоке.
func FormatRestockAlert(product domain.Product, item domain.StockItem, retailer domain.Retailer) string {
	var b strings.Builder
	b.WriteString("🚨 *RESTOCK*\n\n")
	b.WriteString("*" + EscapeMarkdownV2(product.Name) + "*\n")
	if product.Collaborator != "" {
		b.WriteString("_" + EscapeMarkdownV2(product.Collaborator+" Collab") + "_\n")
	}
	b.WriteString(fmt.Sprintf("\nХайп\\-скор: *%d/100*\n\n", product.HypeScore))
	b.WriteString("✅ *" + EscapeMarkdownV2(retailer.Name) + "* — в наличии\n")

	var sizes []string
	for _, size := range item.Sizes {
		if size.InStock {
			sizes = append(sizes, fmt.Sprintf("UK %s", trimFloat(size.UK)))
		}
	}
	if len(sizes) > 0 {
		b.WriteString("Размеры: " + EscapeMarkdownV2(strings.Join(sizes, ", ")) + "\n")
	} else {
		b.WriteString("Размеры: смотрите по ссылке\n")
	}

	if item.Price != nil {
		b.WriteString("\n💰 " + EscapeMarkdownV2(formatPrice(item.Price)) + "\n")
	}
	b.WriteString("\n🔗 [Купить](" + escapeMarkdownURL(item.URL) + ")")
	return b.String()
}

// FormatDiscoveryAlert собирает текст уведомления о новой находке.
func FormatDiscoveryAlert(product domain.Product, sourceNames []string) string {
	var b strings.Builder
	b.WriteString("🔍 *НОВАЯ НАХОДКА*\n\n")
	b.WriteString("*" + EscapeMarkdownV2(product.Name) + "*\n")
	if product.Collaborator != "" {
		b.WriteString("_" + EscapeMarkdownV2(product.Collaborator+" Collab") + "_\n")
	}
	if product.ReleaseDate != nil {
		b.WriteString("\n📅 Релиз: " + EscapeMarkdownV2(product.ReleaseDate.Format("02.01.2006")) + "\n")
	}
	if product.RetailPrice != nil {
		b.WriteString("💰 Ритейл: " + EscapeMarkdownV2(formatPrice(product.RetailPrice)) + "\n")
	}
	if product.ConfidenceScore != nil {
		b.WriteString(fmt.Sprintf("\n📊 Уверенность: %d%%\n", *product.ConfidenceScore))
	}
	if product.IsLimitedEdition {
		b.WriteString("🔥 Лимитированный выпуск\n")
	}
	b.WriteString(fmt.Sprintf("\n🎯 Хайп\\-скор: *%d/100*", product.HypeScore))
	if len(sourceNames) > 0 {
		b.WriteString("\n\n_Источники: " + EscapeMarkdownV2(strings.Join(sourceNames, ", ")) + "_")
	}
	return b.String()
}

// FormatPriceDropAlert собирает текст уведомления о падении цены.
func FormatPriceDropAlert(product domain.Product, retailer domain.Retailer, oldPrice, newPrice float64) string {
	dropPercent := 0
	if oldPrice > 0 {
		dropPercent = int((oldPrice-newPrice)/oldPrice*100 + 0.5)
	}
	var b strings.Builder
	b.WriteString("💸 *ЦЕНА УПАЛА*\n\n")
	b.WriteString("*" + EscapeMarkdownV2(product.Name) + "*\n\n")
	b.WriteString(fmt.Sprintf("📉 %s: *\\-%d%%*\n\n", EscapeMarkdownV2(retailer.Name), dropPercent))
	b.WriteString("Было: ~" + EscapeMarkdownV2(formatPrice(&oldPrice)) + "~\n")
	b.WriteString("Стало: *" + EscapeMarkdownV2(formatPrice(&newPrice)) + "*")
	if product.RetailPrice != nil {
		b.WriteString("\n\nРитейл: " + EscapeMarkdownV2(formatPrice(product.RetailPrice)))
	}
	return b.String()
}

// DigestContent — данные суточного дайджеста.
type DigestContent struct {
	Date             time.Time
	TopDiscoveries   []domain.Product
	Trending         []TrendingProduct
	ReleasesTomorrow []domain.Product
}

// TrendingProduct — товар с изменением хайп-скора за окно тренда.
type TrendingProduct struct {
	Product domain.Product
	Change  int
}

// Empty сообщает, что в дайджесте нечего показывать.
func (d DigestContent) Empty() bool {
	return len(d.TopDiscoveries) == 0 && len(d.Trending) == 0 && len(d.ReleasesTomorrow) == 0
}

// FormatDigest собирает текст суточного дайджеста.
func FormatDigest(content DigestContent) string {
	var b strings.Builder
	b.WriteString("📰 *HYPE HUNTER — ДАЙДЖЕСТ*\n")
	b.WriteString("_" + EscapeMarkdownV2(content.Date.Format("02.01.2006")) + "_\n")

	if len(content.TopDiscoveries) > 0 {
		b.WriteString(fmt.Sprintf("\n🔥 *Лучшие находки* \\(%d\\)\n", len(content.TopDiscoveries)))
		for i, product := range content.TopDiscoveries {
			if i >= 5 {
				break
			}
			b.WriteString(fmt.Sprintf("%d\\. %s — скор %d\n", i+1, EscapeMarkdownV2(product.Name), product.HypeScore))
		}
	}

	if len(content.Trending) > 0 {
		b.WriteString("\n📈 *Растут*\n")
		for i, trending := range content.Trending {
			if i >= 3 {
				break
			}
			sign := ""
			if trending.Change >= 0 {
				sign = "\\+"
			}
			b.WriteString(fmt.Sprintf("• %s \\(%s%d\\)\n", EscapeMarkdownV2(trending.Product.Name), sign, trending.Change))
		}
	}

	if len(content.ReleasesTomorrow) > 0 {
		b.WriteString("\n⚠️ *Релизы завтра*\n")
		for _, product := range content.ReleasesTomorrow {
			b.WriteString("• " + EscapeMarkdownV2(product.Name) + "\n")
		}
	}

	return strings.TrimSpace(b.String())
}

// EscapeMarkdownV2 экранирует спецсимволы Telegram MarkdownV2.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func escapeMarkdownURL(url string) string {
	replacer := strings.NewReplacer(")", "\\)", "\\", "\\\\")
	return replacer.Replace(url)
}

func formatPrice(price *float64) string {
	if price == nil {
		return "—"
	}
	return fmt.Sprintf("£%.2f", *price)
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	return strings.TrimSuffix(s, ".0")
}
