package decode

import (
	"encoding/json"
	"testing"
	"time"
)

type sample struct {
	Name    string        `yaml:"name"`
	Port    int           `yaml:"port"`
	Wait    time.Duration `yaml:"wait"`
	Servers []string      `yaml:"servers"`
	Nested  struct {
		On bool `yaml:"on"`
	} `yaml:"nested"`
}

func TestMap(t *testing.T) {
	var out sample
	err := Map(map[string]any{
		"name":    "hub",
		"port":    "8080",
		"wait":    "5s",
		"servers": "a:1,b:2",
		"nested":  map[string]any{"on": "true"},
	}, &out)
	if err != nil {
		t.Fatalf("Map() error: %v", err)
	}
	if out.Name != "hub" || out.Port != 8080 || out.Wait != 5*time.Second {
		t.Errorf("unexpected result: %+v", out)
	}
	if len(out.Servers) != 2 || out.Servers[1] != "b:2" {
		t.Errorf("Servers = %v", out.Servers)
	}
	if !out.Nested.On {
		t.Errorf("Nested.On = false")
	}
}

func TestInt64(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{"float", float64(7), 7, false},
		{"fraction", 7.5, 0, true},
		{"string", " 42 ", 42, false},
		{"leading zero", "007", 7, false},
		{"json number", json.Number("9"), 9, false},
		{"word", "abc", 0, true},
		{"nil", nil, 0, true},
		{"bool", true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Int64(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Int64(%v) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Int64(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
