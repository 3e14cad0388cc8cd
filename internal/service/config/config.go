package config

type Config struct {
	// Адрес внешней платежной системы. Пустая строка - расчеты по внутреннему балансу
	PaymentAddr string
}
