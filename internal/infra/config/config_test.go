package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("ADMIN_IDS", " 1, 2 ,")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.DataDir != "data" {
		t.Fatalf("неожиданные значения хранилища: %+v", cfg.Storage)
	}
	if cfg.Dispatch.Interval != 30*time.Second || cfg.Dispatch.Pacing != 2*time.Second || cfg.Dispatch.DisplayOffset != 2*time.Hour {
		t.Fatalf("неожиданные значения планировщика: %+v", cfg.Dispatch)
	}
	if ids := cfg.Operators; len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ожидали [1 2], получили %v", ids)
	}
}

func TestParseWithoutAdminsAllowsEveryone(t *testing.T) {
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("ADMIN_IDS", "")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(cfg.Operators) != 0 {
		t.Fatalf("ожидали пустой список операторов, получили %v", cfg.Operators)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "нет токена", env: map[string]string{"BOT_TOKEN": ""}},
		{name: "неизвестный драйвер", env: map[string]string{"BOT_TOKEN": "t", "STORAGE_DRIVER": "s3"}},
		{name: "postgres без dsn", env: map[string]string{"BOT_TOKEN": "t", "STORAGE_DRIVER": "postgres", "PG_DSN": ""}},
		{name: "кривой admin", env: map[string]string{"BOT_TOKEN": "t", "ADMIN_IDS": "abc"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Parse(); err == nil {
				t.Fatal("ожидали ошибку")
			}
		})
	}
}
