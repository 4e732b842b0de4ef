package sessionconfig

import "testing"

func TestValidateConfigurationRejectsMissingServers(t *testing.T) {
	cfg := &Config{Role: "client", ListenAddr: "127.0.0.1:9000"}
	setDefaults(cfg)
	errs := ValidateConfiguration(cfg)

	found := false
	for _, e := range errs {
		if e.Field == "Servers" && e.Level == "error" {
			found = true
		}
	}
	if !found {
		t.Error("expected a Servers error when no servers are configured")
	}
}

func TestValidateConfigurationAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{
		Role:       "server",
		ListenAddr: "127.0.0.1:9000",
		Servers: []ServerConfig{
			{Id: "a", PubKey: "deadbeef", Address: "127.0.0.1:9001"},
		},
	}
	setDefaults(cfg)

	for _, e := range ValidateConfiguration(cfg) {
		if e.Level == "error" {
			t.Errorf("unexpected error: %s - %s", e.Field, e.Message)
		}
	}
}

func TestValidateConfigurationRejectsDuplicateServerIds(t *testing.T) {
	cfg := &Config{
		Role:       "server",
		ListenAddr: "127.0.0.1:9000",
		Servers: []ServerConfig{
			{Id: "a", PubKey: "dead", Address: "127.0.0.1:9001"},
			{Id: "a", PubKey: "beef", Address: "127.0.0.1:9002"},
		},
	}
	setDefaults(cfg)

	found := false
	for _, e := range ValidateConfiguration(cfg) {
		if e.Message == "duplicate server id" {
			found = true
		}
	}
	if !found {
		t.Error("expected a duplicate server id error")
	}
}
