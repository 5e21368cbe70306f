package main

import (
	"testing"

	"github.com/front-sio/pos-api/internal/config"
)

// devConfig is the smallest configuration that passes validation.
func devConfig() config.Config {
	return config.Config{CostFallback: "fail", SagaRecoveryGrace: 30, SagaStepTimeout: 10}
}

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	with := func(edit func(*config.Config)) config.Config {
		cfg := devConfig()
		edit(&cfg)
		return cfg
	}
	cases := map[string]config.Config{
		"short auth secret":      with(func(c *config.Config) { c.AuthSecret = "short" }),
		"sequential pin":         with(func(c *config.Config) { c.ReturnManagerPIN = "123456" }),
		"same digit pin":         with(func(c *config.Config) { c.ReturnManagerPIN = "777777" }),
		"unknown cost policy":    with(func(c *config.Config) { c.CostFallback = "guess" }),
		"remote stock no secret": with(func(c *config.Config) { c.ProductsServiceURL = "http://products:8081" }),
		"grace within one step":  with(func(c *config.Config) { c.SagaRecoveryGrace = 10 }),
		"grace equal two steps":  with(func(c *config.Config) { c.SagaRecoveryGrace = 20 }),
	}
	for name, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("%s: expected config to be rejected", name)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:         "0123456789abcdef0123456789abcdef",
		ServiceTokenSecret: "fedcba9876543210fedcba9876543210",
		ProductsServiceURL: "http://products:8081",
		ReturnManagerPIN:   "739154",
		CostFallback:       "unit_price",
		SagaRecoveryGrace:  45,
		SagaStepTimeout:    15,
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigAllowsOpenDevMode(t *testing.T) {
	if err := validateSecurityConfig(devConfig()); err != nil {
		t.Fatalf("expected dev config to pass, got %v", err)
	}
}
