// Package main provides scorectl, an operator CLI for inspecting score jobs,
// submissions and the scoring queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"scoring-service/internal/config"
	"scoring-service/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "scorectl",
	Short:         "Inspect the scoring service",
	Long:          "scorectl reads score jobs, submissions, queue counts and audit trails from the stores the scoring service uses.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var redisAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Redis address (overrides REDIS_ADDR)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() config.Config {
	cfg := config.FromEnv()
	if redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}
	return cfg
}

func connect(ctx context.Context) (config.Config, *redis.Client, error) {
	cfg := loadConfig()
	client, err := store.NewRedisClient(ctx, cfg)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, client, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
