package main

import (
	"testing"

	"github.com/flashring/flashring/pkg/common/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Level{
		"debug": log.LevelDebug,
		"DEBUG": log.LevelDebug,
		"warn":  log.LevelWarn,
		"error": log.LevelError,
		"info":  log.LevelInfo,
		"":      log.LevelInfo,
		"bogus": log.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
