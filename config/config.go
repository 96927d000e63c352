// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package config holds the process-start configuration (spec.md §6)
// plus the ambient keys SPEC_FULL.md adds on top of it.
package config

import (
	"encoding/json"
	"os"
)

// Config is the engine's full process-start configuration: the
// spec.md §6 table plus the ambient keys SPEC_FULL.md §6 adds
// (metrics_log, pprof, passphrase, log), mirroring the teacher's flat
// Config-struct-plus-JSON-override shape.
type Config struct {
	Port         string `json:"port"`
	Baud         int    `json:"baud"`
	ControlLine  string `json:"control_line"`
	ResetOnOpen  bool   `json:"reset_on_connect"`
	RingCapacity int    `json:"ring_capacity_bytes"`
	PoolSlots    int    `json:"pool_slots"`
	PreReadyCap  int    `json:"pre_ready_queue_cap"`
	DrainTimeout int    `json:"drain_timeout_ms"`
	KeepLastK    int    `json:"keep_last_k"`

	RecordPath       string `json:"record_path"`
	RecorderQueueCap int    `json:"recorder_queue_depth"`
	Passphrase       string `json:"passphrase"`

	MetricsLog    string `json:"metrics_log"`
	MetricsPeriod int    `json:"metrics_period_s"`
	Pprof         bool   `json:"pprof"`
	Log           string `json:"log"`
}

// Default returns the configuration's documented defaults (spec.md §6
// and SPEC_FULL.md §6).
func Default() Config {
	return Config{
		Baud:             2_000_000,
		ControlLine:      "DTR",
		ResetOnOpen:      true,
		RingCapacity:     1_048_576,
		PoolSlots:        1024,
		PreReadyCap:      1000,
		DrainTimeout:     5000,
		KeepLastK:        10,
		RecorderQueueCap: 4096,
		MetricsPeriod:    60,
	}
}

// ParseJSONConfig decodes path into config, overriding whatever CLI
// flags already populated — identical precedence to the teacher's
// client/main.go parseJSONConfig.
func ParseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
