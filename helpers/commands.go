package helpers

import (
	"fmt"
	"strconv"
	"strings"
)

// Automation command wire format: a single line, command word first,
// then space-separated key=value fields. Example:
//
//	entry symbol=ABCD type=stop price=105.25 stop=95 target=110 tf=1d
//
// Receiving automation bridges split on spaces, so symbol and strategy
// values must never contain whitespace.

// EntryCommand describes an entry order forwarded to an automation
// endpoint.
type EntryCommand struct {
	Symbol      string
	OrderType   string // market, limit, stop
	Price       float64
	StopPrice   *float64
	TargetPrice *float64
	Timeframe   string
	StrategyID  string
	Short       bool
}

// ExitCommand describes an exit/flatten instruction.
type ExitCommand struct {
	Symbol     string
	Reason     string // stop_hit, target_hit, expired, manual
	Price      float64
	StrategyID string
}

// FormatEntryCommand renders an entry command line.
func FormatEntryCommand(cmd EntryCommand) string {
	fields := []string{
		"entry",
		kv("symbol", cmd.Symbol),
		kv("type", cmd.OrderType),
		kv("price", FormatPrice(cmd.Price)),
	}
	if cmd.StopPrice != nil {
		fields = append(fields, kv("stop", FormatPrice(*cmd.StopPrice)))
	}
	if cmd.TargetPrice != nil {
		fields = append(fields, kv("target", FormatPrice(*cmd.TargetPrice)))
	}
	if cmd.Timeframe != "" {
		fields = append(fields, kv("tf", cmd.Timeframe))
	}
	if cmd.StrategyID != "" {
		fields = append(fields, kv("strategy", cmd.StrategyID))
	}
	if cmd.Short {
		fields = append(fields, kv("side", "short"))
	}
	return strings.Join(fields, " ")
}

// FormatExitCommand renders an exit command line.
func FormatExitCommand(cmd ExitCommand) string {
	fields := []string{
		"exit",
		kv("symbol", cmd.Symbol),
		kv("price", FormatPrice(cmd.Price)),
	}
	if cmd.Reason != "" {
		fields = append(fields, kv("reason", cmd.Reason))
	}
	if cmd.StrategyID != "" {
		fields = append(fields, kv("strategy", cmd.StrategyID))
	}
	return strings.Join(fields, " ")
}

// FormatPrice renders a price without trailing zeros, up to 4 decimal
// places.
func FormatPrice(price float64) string {
	s := strconv.FormatFloat(price, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}

func kv(key, value string) string {
	// Spaces would break the field grammar downstream.
	return fmt.Sprintf("%s=%s", key, strings.ReplaceAll(value, " ", "_"))
}
