package config

type Config struct {
	KafkaBrokers []string
	KafkaTopic   string
}
