package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"snipebot-go/internal/config"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== SnipeBot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit position and exit knobs")
		fmt.Println("3) Edit discovery filter")
		fmt.Println("4) Save config")
		fmt.Println("5) Launch bot")
		fmt.Println("6) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editTrading(reader, cfg)
		case "3":
			editDiscovery(reader, cfg)
		case "4":
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "5":
			launchBot(reader)
		case "6":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	mode := "paper"
	if !cfg.Paper.Enabled {
		mode = "live"
	}
	fmt.Printf("Mode: %s (starting cash %.2f SOL)\n", mode, cfg.Paper.StartingCash)
	fmt.Printf("Position size: %.4f SOL (reserve %.4f)\n", cfg.Trading.PositionSizeBase, cfg.Trading.BalanceReserveBase)
	fmt.Printf("Max concurrent positions: %d\n", cfg.Trading.MaxConcurrentPositions)
	if tp, err := cfg.ResolvedTakeProfitMode(); err != nil {
		fmt.Printf("Take profit: invalid (%v)\n", err)
	} else if tp == config.TakeProfitAbsolute {
		fmt.Printf("Take profit: $%.2f absolute\n", cfg.Trading.TakeProfitUSDC)
	} else {
		fmt.Printf("Take profit: %.2f%%\n", cfg.Trading.TakeProfitPct)
	}
	fmt.Printf("Stop loss: %.2f%%\n", cfg.Trading.StopLossPct)
	fmt.Println("Required DEXes:", strings.Join(cfg.Filter.RequiredDexes, ", "))
	fmt.Printf("Max token age: %ds | min liquidity: $%.0f | min 24h volume: $%.0f\n", cfg.Filter.MaxTokenAgeSeconds, cfg.Filter.MinLiquidityUSD, cfg.Filter.MinVolume24h)
	fmt.Printf("Discovery refresh: %dms, up to %d tokens, backpressure %s\n", cfg.Discovery.RefreshInterval, cfg.Discovery.MaxTokens, cfg.Discovery.Backpressure)
}

func editTrading(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Position / Exit ---")
	cfg.Paper.Enabled = promptBool(reader, "Paper trading", cfg.Paper.Enabled)
	cfg.Paper.StartingCash = promptFloat(reader, "Paper starting cash (SOL)", cfg.Paper.StartingCash)
	cfg.Trading.PositionSizeBase = promptFloat(reader, "Position size (SOL)", cfg.Trading.PositionSizeBase)
	cfg.Trading.MaxConcurrentPositions = int(promptFloat(reader, "Max concurrent positions", float64(cfg.Trading.MaxConcurrentPositions)))
	fmt.Printf("Take profit mode (%s|%s) [%s]: ", config.TakeProfitAbsolute, config.TakeProfitPercent, cfg.Trading.TakeProfitMode)
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		cfg.Trading.TakeProfitMode = strings.ToLower(strings.TrimSpace(line))
	}
	if cfg.Trading.TakeProfitMode == config.TakeProfitAbsolute {
		cfg.Trading.TakeProfitUSDC = promptFloat(reader, "Take profit (USD)", cfg.Trading.TakeProfitUSDC)
	} else {
		cfg.Trading.TakeProfitPct = promptFloat(reader, "Take profit (%)", cfg.Trading.TakeProfitPct)
	}
	cfg.Trading.StopLossPct = promptFloat(reader, "Stop loss (%, negative)", cfg.Trading.StopLossPct)
}

func editDiscovery(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Discovery Filter ---")
	fmt.Printf("Current DEXes: %s\n", strings.Join(cfg.Filter.RequiredDexes, ", "))
	fmt.Print("Enter DEXes comma-separated (blank to keep): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		parts := strings.Split(strings.TrimSpace(line), ",")
		cfg.Filter.RequiredDexes = nil
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cfg.Filter.RequiredDexes = append(cfg.Filter.RequiredDexes, trimmed)
			}
		}
	}
	cfg.Filter.MaxTokenAgeSeconds = int(promptFloat(reader, "Max token age (s)", float64(cfg.Filter.MaxTokenAgeSeconds)))
	cfg.Filter.MinLiquidityUSD = promptFloat(reader, "Min liquidity (USD)", cfg.Filter.MinLiquidityUSD)
	cfg.Filter.MinVolume24h = promptFloat(reader, "Min 24h volume (USD)", cfg.Filter.MinVolume24h)
	cfg.Discovery.MaxTokens = int(promptFloat(reader, "Max tokens per refresh", float64(cfg.Discovery.MaxTokens)))
}

func launchBot(reader *bufio.Reader) {
	fmt.Println("Launching bot (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/bot", "-config", locateConfig())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start bot: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the bot and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptBool(reader *bufio.Reader, label string, current bool) bool {
	fmt.Printf("%s (y/n) [%t]: ", label, current)
	line, _ := reader.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "true":
		return true
	case "n", "no", "false":
		return false
	}
	return current
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if filepath.IsAbs(defaultConfigPath) {
		return defaultConfigPath
	}
	return filepath.Clean(defaultConfigPath)
}
