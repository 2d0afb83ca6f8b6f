package helpers

import "testing"

func floatPtr(f float64) *float64 { return &f }

func TestFormatEntryCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  EntryCommand
		want string
	}{
		{
			name: "full setup",
			cmd: EntryCommand{
				Symbol:      "ABCD",
				OrderType:   "stop",
				Price:       105.25,
				StopPrice:   floatPtr(95),
				TargetPrice: floatPtr(110),
				Timeframe:   "1d",
				StrategyID:  "resistance_breakout",
			},
			want: "entry symbol=ABCD type=stop price=105.25 stop=95 target=110 tf=1d strategy=resistance_breakout",
		},
		{
			name: "short side appended",
			cmd: EntryCommand{
				Symbol:    "ABCD",
				OrderType: "market",
				Price:     50,
				Short:     true,
			},
			want: "entry symbol=ABCD type=market price=50 side=short",
		},
		{
			name: "optional fields omitted",
			cmd: EntryCommand{
				Symbol:    "ABCD",
				OrderType: "limit",
				Price:     99.999,
			},
			want: "entry symbol=ABCD type=limit price=99.999",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatEntryCommand(tt.cmd); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFormatExitCommand(t *testing.T) {
	cmd := ExitCommand{
		Symbol:     "ABCD",
		Reason:     "stop_hit",
		Price:      94.5,
		StrategyID: "resistance_breakout",
	}
	want := "exit symbol=ABCD price=94.5 reason=stop_hit strategy=resistance_breakout"
	if got := FormatExitCommand(cmd); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	bare := ExitCommand{Symbol: "ABCD", Price: 100}
	if got := FormatExitCommand(bare); got != "exit symbol=ABCD price=100" {
		t.Errorf("unexpected bare exit command: %q", got)
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{100, "100"},
		{105.25, "105.25"},
		{0.1234, "0.1234"},
		{0.12341, "0.1234"}, // capped at 4 decimals
		{99.90, "99.9"},
		{10.0001, "10.0001"},
	}

	for _, tt := range tests {
		if got := FormatPrice(tt.in); got != tt.want {
			t.Errorf("FormatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKVReplacesSpaces(t *testing.T) {
	if got := kv("strategy", "my strategy"); got != "strategy=my_strategy" {
		t.Errorf("unexpected kv output: %q", got)
	}
}
