package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	c := Load()
	if c.Listen != ":9400" {
		t.Errorf("Listen = %q, want :9400", c.Listen)
	}
	if c.MaxConnections != 256 {
		t.Errorf("MaxConnections = %d, want 256", c.MaxConnections)
	}
	if !c.ScanEnabled {
		t.Errorf("ScanEnabled = false, want true by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TUNERPROXYD_LISTEN", ":1234")
	t.Setenv("TUNERPROXYD_MAX_CONNECTIONS", "10")
	t.Setenv("TUNERPROXYD_TLS", "true")

	c := Load()
	if c.Listen != ":1234" {
		t.Errorf("Listen = %q, want :1234", c.Listen)
	}
	if c.MaxConnections != 10 {
		t.Errorf("MaxConnections = %d, want 10", c.MaxConnections)
	}
	if !c.TLSEnabled {
		t.Errorf("TLSEnabled = false, want true")
	}
}

func TestKeepAliveDuration(t *testing.T) {
	c := &Config{KeepAliveSecs: 15}
	if c.KeepAlive().Seconds() != 15 {
		t.Errorf("KeepAlive() = %v, want 15s", c.KeepAlive())
	}
}
