// Copyright 2025 the troubleshoot-mcp authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bundle

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"k8s.io/client-go/tools/clientcmd"
)

var kubeconfigServerRegexp = regexp.MustCompile(`server:\s*(https?://[^\s"']+)`)

// ExtractAPIServer pulls the API server URL out of kubeconfig content. The
// helper writes either JSON or YAML depending on version, so the parse is
// three-tier: structured JSON first, clientcmd's YAML loader second, and a
// regex scan for the server line as a last resort.
func ExtractAPIServer(content []byte) (string, error) {
	var jsonConfig struct {
		Clusters []struct {
			Cluster struct {
				Server string `json:"server"`
			} `json:"cluster"`
		} `json:"clusters"`
	}
	if err := json.Unmarshal(content, &jsonConfig); err == nil {
		for _, c := range jsonConfig.Clusters {
			if c.Cluster.Server != "" {
				return c.Cluster.Server, nil
			}
		}
	}

	if cfg, err := clientcmd.Load(content); err == nil {
		for _, cluster := range cfg.Clusters {
			if cluster.Server != "" {
				return cluster.Server, nil
			}
		}
	}

	if m := kubeconfigServerRegexp.FindSubmatch(content); m != nil {
		return string(m[1]), nil
	}

	return "", errors.New("no API server address found in kubeconfig")
}

// apiServerHostPort resolves a server URL into host and port, defaulting to
// localhost:8080 when the URL is unusable. 8080 is what sbctl binds when
// the kubeconfig gives no port.
func apiServerHostPort(serverURL string) (string, int) {
	host, port := "localhost", 8080

	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return host, port
	}
	if h := u.Hostname(); h != "" {
		host = h
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return host, port
}
