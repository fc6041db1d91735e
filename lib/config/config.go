/*
 * cqld
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package config implements the cqld YAML file configuration.
package config

import (
	"bytes"
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/gravitational/cqld/lib/defaults"
)

// FileConfig is the cqld configuration file format.
type FileConfig struct {
	// ListenAddr is the address to accept CQL client connections on.
	ListenAddr string `yaml:"listen_addr"`
	// MetricsAddr is the address to serve the prometheus endpoint on.
	MetricsAddr string `yaml:"metrics_addr"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
	// Cluster configures the backing cluster session.
	Cluster Cluster `yaml:"cluster"`
	// Pool configures the query processor pool.
	Pool Pool `yaml:"pool"`
}

// Cluster is the backing cluster section of the configuration file.
type Cluster struct {
	// Addrs are the cluster contact points.
	Addrs []string `yaml:"addrs"`
	// RequestTimeout is the per-request timeout, e.g. "60s".
	RequestTimeout string `yaml:"request_timeout"`
	// DialTimeout is the connection dial timeout, e.g. "30s".
	DialTimeout string `yaml:"dial_timeout"`
}

// Pool is the processor pool section of the configuration file.
type Pool struct {
	// InitialSize is the number of processors created at startup.
	InitialSize *int `yaml:"initial_size"`
}

// ReadFile parses the configuration file at path. Unknown fields are
// rejected to surface typos.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return Parse(data)
}

// Parse parses configuration file data.
func Parse(data []byte) (*FileConfig, error) {
	var fc FileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		return nil, trace.BadParameter("failed to parse config: %v", err)
	}
	return &fc, nil
}

// CheckAndSetDefaults validates the file config and fills in defaults.
func (fc *FileConfig) CheckAndSetDefaults() error {
	if fc.ListenAddr == "" {
		fc.ListenAddr = defaults.CQLListenAddr
	}
	if fc.MetricsAddr == "" {
		fc.MetricsAddr = defaults.MetricsListenAddr
	}
	if len(fc.Cluster.Addrs) == 0 {
		fc.Cluster.Addrs = []string{defaults.ClusterAddr}
	}
	if fc.Cluster.RequestTimeout == "" {
		fc.Cluster.RequestTimeout = defaults.RequestTimeout.String()
	}
	if fc.Cluster.DialTimeout == "" {
		fc.Cluster.DialTimeout = defaults.DialTimeout.String()
	}
	if _, err := fc.RequestTimeout(); err != nil {
		return trace.Wrap(err)
	}
	if _, err := fc.DialTimeout(); err != nil {
		return trace.Wrap(err)
	}
	if fc.Pool.InitialSize == nil {
		size := defaults.ProcessorPoolSize
		fc.Pool.InitialSize = &size
	}
	if *fc.Pool.InitialSize < 0 {
		return trace.BadParameter("pool.initial_size must not be negative, got %v", *fc.Pool.InitialSize)
	}
	return nil
}

// RequestTimeout returns the parsed cluster request timeout.
func (fc *FileConfig) RequestTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(fc.Cluster.RequestTimeout)
	if err != nil {
		return 0, trace.BadParameter("invalid cluster.request_timeout %q: %v", fc.Cluster.RequestTimeout, err)
	}
	return d, nil
}

// DialTimeout returns the parsed cluster dial timeout.
func (fc *FileConfig) DialTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(fc.Cluster.DialTimeout)
	if err != nil {
		return 0, trace.BadParameter("invalid cluster.dial_timeout %q: %v", fc.Cluster.DialTimeout, err)
	}
	return d, nil
}
