package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ApiId        int32             `json:"ApiId"`
	ApiHash      string            `json:"ApiHash"`
	Mongo        map[string]string `json:"Mongo"`
	Debug        bool              `json:"Debug"`
	TDataDir     string            `json:"TDataDir"`
	AccountId    int64             `json:"AccountId"`
	Phone        string            `json:"Phone"`
	PollSchedule string            `json:"PollSchedule"`
}

func InitConfiguration() (*Config, error) {
	// optional; env vars win over config.json either way
	_ = godotenv.Load()

	var cfg = Config{}
	err := UnmarshalJsonFile("config.json", &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if uri := os.Getenv("MONGO_URI"); uri != "" {
		if cfg.Mongo == nil {
			cfg.Mongo = map[string]string{}
		}
		cfg.Mongo["uri"] = uri
	}
	if apiId := os.Getenv("TG_API_ID"); apiId != "" {
		id, err := strconv.ParseInt(apiId, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid TG_API_ID: %w", err)
		}
		cfg.ApiId = int32(id)
	}
	if apiHash := os.Getenv("TG_API_HASH"); apiHash != "" {
		cfg.ApiHash = apiHash
	}
	if cfg.PollSchedule == "" {
		cfg.PollSchedule = "@every 1h"
	}

	return &cfg, nil
}

func UnmarshalJsonFile(path string, dest interface{}) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("json file does not exist: %w", err)
	}

	byteValue, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read json file: %w", err)
	}
	if err := json.Unmarshal(byteValue, dest); err != nil {
		return fmt.Errorf("failed to parse json file: %w", err)
	}

	return nil
}
