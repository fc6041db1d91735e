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

package config

import (
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/cqld/lib/defaults"
)

func TestParseFullConfig(t *testing.T) {
	t.Parallel()
	fc, err := Parse([]byte(`
listen_addr: "0.0.0.0:9142"
metrics_addr: "127.0.0.1:9181"
debug: true
cluster:
  addrs: ["10.0.0.1", "10.0.0.2"]
  request_timeout: 30s
  dial_timeout: 5s
pool:
  initial_size: 4
`))
	require.NoError(t, err)
	require.NoError(t, fc.CheckAndSetDefaults())

	require.Equal(t, "0.0.0.0:9142", fc.ListenAddr)
	require.Equal(t, "127.0.0.1:9181", fc.MetricsAddr)
	require.True(t, fc.Debug)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, fc.Cluster.Addrs)
	require.Equal(t, 4, *fc.Pool.InitialSize)

	requestTimeout, err := fc.RequestTimeout()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, requestTimeout)
	dialTimeout, err := fc.DialTimeout()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, dialTimeout)
}

func TestParseEmptyConfigUsesDefaults(t *testing.T) {
	t.Parallel()
	fc := &FileConfig{}
	require.NoError(t, fc.CheckAndSetDefaults())

	require.Equal(t, defaults.CQLListenAddr, fc.ListenAddr)
	require.Equal(t, defaults.MetricsListenAddr, fc.MetricsAddr)
	require.Equal(t, []string{defaults.ClusterAddr}, fc.Cluster.Addrs)
	require.Equal(t, defaults.ProcessorPoolSize, *fc.Pool.InitialSize)

	requestTimeout, err := fc.RequestTimeout()
	require.NoError(t, err)
	require.Equal(t, defaults.RequestTimeout, requestTimeout)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`listen_address: ":9042"`))
	require.True(t, trace.IsBadParameter(err))
}

func TestCheckAndSetDefaultsRejectsBadValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		desc string
		fc   FileConfig
	}{
		{
			desc: "negative pool size",
			fc:   FileConfig{Pool: Pool{InitialSize: intPtr(-1)}},
		},
		{
			desc: "bad request timeout",
			fc:   FileConfig{Cluster: Cluster{RequestTimeout: "never"}},
		},
		{
			desc: "bad dial timeout",
			fc:   FileConfig{Cluster: Cluster{DialTimeout: "soon"}},
		},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			fc := test.fc
			require.True(t, trace.IsBadParameter(fc.CheckAndSetDefaults()))
		})
	}
}

func intPtr(n int) *int {
	return &n
}
