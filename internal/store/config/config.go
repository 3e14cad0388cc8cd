package config

type Config struct {
	// Пустая строка - хранение в памяти
	DBDsn string
}
