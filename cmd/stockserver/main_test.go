package main

import (
	"testing"

	"github.com/front-sio/pos-api/internal/config"
)

func TestValidateConfig(t *testing.T) {
	if err := validateConfig(config.Config{}); err != nil {
		t.Fatalf("expected dev config to pass, got %v", err)
	}
	if err := validateConfig(config.Config{ProductsDatabaseURL: "postgres://x"}); err == nil {
		t.Fatalf("expected database without service secret to be rejected")
	}
	if err := validateConfig(config.Config{ServiceTokenSecret: "short"}); err == nil {
		t.Fatalf("expected short service secret to be rejected")
	}
	err := validateConfig(config.Config{
		ProductsDatabaseURL: "postgres://x",
		ServiceTokenSecret:  "fedcba9876543210fedcba9876543210",
	})
	if err != nil {
		t.Fatalf("expected production config to pass, got %v", err)
	}
}
