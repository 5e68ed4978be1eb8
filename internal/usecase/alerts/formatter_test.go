package alerts

import (
	"strings"
	"testing"
	"time"

	"hype-hunter/internal/domain"
)

func price(v float64) *float64 { return &v }

func TestEscapeMarkdownV2(t *testing.T) {
	escaped := EscapeMarkdownV2("Nike Air Max 1 'Panda' (2024) - 50% off!")
	if !strings.Contains(escaped, "\\(2024\\)") {
		t.Fatalf("скобки должны быть экранированы: %q", escaped)
	}
	if !strings.Contains(escaped, "\\-") || !strings.Contains(escaped, "off\\!") {
		t.Fatalf("дефис и восклицательный знак должны быть экранированы: %q", escaped)
	}
	if strings.Contains(escaped, "\\P") {
		t.Fatalf("обычные символы не экранируются: %q", escaped)
	}
}

func TestFormatRestockAlert(t *testing.T) {
	product := domain.Product{Name: "Nike Air Max 1", Collaborator: "Travis Scott", HypeScore: 87}
	item := domain.StockItem{
		URL:   "https://shop.example/air-max-1",
		Price: price(179.99),
		Sizes: []domain.SizeAvailability{
			{UK: 8, InStock: true},
			{UK: 9.5, InStock: true},
			{UK: 10, InStock: false},
		},
	}
	retailer := domain.Retailer{Name: "Size?"}

	text := FormatRestockAlert(product, item, retailer)
	if !strings.Contains(text, "RESTOCK") {
		t.Fatalf("нет заголовка рестока: %q", text)
	}
	if !strings.Contains(text, "UK 8, UK 9\\.5") {
		t.Fatalf("в тексте должны быть только размеры в наличии: %q", text)
	}
	if strings.Contains(text, "UK 10") {
		t.Fatalf("размер не в наличии не должен попадать в текст: %q", text)
	}
	if !strings.Contains(text, "£179\\.99") {
		t.Fatalf("цена должна быть в тексте: %q", text)
	}
	if !strings.Contains(text, "(https://shop.example/air-max-1)") {
		t.Fatalf("ссылка на покупку обязательна: %q", text)
	}
	if !strings.Contains(text, "87/100") {
		t.Fatalf("хайп-скор должен быть в тексте: %q", text)
	}
}

func TestFormatDiscoveryAlert(t *testing.T) {
	release := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	confidence := 92
	product := domain.Product{
		Name:             "Jordan 4 Retro Thunder",
		HypeScore:        74,
		ReleaseDate:      &release,
		RetailPrice:      price(210),
		ConfidenceScore:  &confidence,
		IsLimitedEdition: true,
	}

	text := FormatDiscoveryAlert(product, []string{"Sneaker Calendar", "StockX"})
	if !strings.Contains(text, "НОВАЯ НАХОДКА") {
		t.Fatalf("нет заголовка находки: %q", text)
	}
	if !strings.Contains(text, "15\\.09\\.2026") {
		t.Fatalf("дата релиза должна быть в тексте: %q", text)
	}
	if !strings.Contains(text, "92%") {
		t.Fatalf("уверенность должна быть в тексте: %q", text)
	}
	if !strings.Contains(text, "Sneaker Calendar, StockX") {
		t.Fatalf("источники должны перечисляться: %q", text)
	}
	if !strings.Contains(text, "Лимитированный") {
		t.Fatalf("флаг лимитированного выпуска должен быть в тексте: %q", text)
	}
}

func TestFormatPriceDropAlert(t *testing.T) {
	product := domain.Product{Name: "Adidas Samba OG", RetailPrice: price(90)}
	retailer := domain.Retailer{Name: "JD Sports"}

	text := FormatPriceDropAlert(product, retailer, 100, 75)
	if !strings.Contains(text, "\\-25%") {
		t.Fatalf("процент падения должен округляться и экранироваться: %q", text)
	}
	if !strings.Contains(text, "£100\\.00") || !strings.Contains(text, "£75\\.00") {
		t.Fatalf("обе цены должны быть в тексте: %q", text)
	}
}

func TestFormatDigest(t *testing.T) {
	content := DigestContent{
		Date: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		TopDiscoveries: []domain.Product{
			{Name: "Nike Air Max 1 'Panda'", HypeScore: 91},
			{Name: "Jordan 4 Retro Thunder", HypeScore: 74},
		},
		Trending: []TrendingProduct{
			{Product: domain.Product{Name: "Adidas Samba OG"}, Change: 12},
		},
		ReleasesTomorrow: []domain.Product{
			{Name: "New Balance 991"},
		},
	}

	text := FormatDigest(content)
	if !strings.Contains(text, "31\\.08\\.2026") {
		t.Fatalf("дата дайджеста должна быть в тексте: %q", text)
	}
	if !strings.Contains(text, "Лучшие находки") || !strings.Contains(text, "Растут") || !strings.Contains(text, "Релизы завтра") {
		t.Fatalf("все разделы должны присутствовать: %q", text)
	}
	if !strings.Contains(text, "\\+12") {
		t.Fatalf("дельта тренда должна быть со знаком: %q", text)
	}
	if strings.Index(text, "Nike Air Max 1") > strings.Index(text, "Jordan 4") {
		t.Fatalf("находки идут в порядке скора: %q", text)
	}
}

func TestFormatDigestEmpty(t *testing.T) {
	content := DigestContent{Date: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)}
	if !content.Empty() {
		t.Fatalf("пустой дайджест должен считаться пустым")
	}
	text := FormatDigest(content)
	if !strings.Contains(text, "ДАЙДЖЕСТ") {
		t.Fatalf("даже пустой дайджест несёт заголовок: %q", text)
	}
	if strings.Contains(text, "Лучшие находки") {
		t.Fatalf("пустые разделы не выводятся: %q", text)
	}
}
