package config

import (
	"fmt"
	"net/url"
)

// ProxyConfig holds outbound proxy settings for the agent. When no field is
// set the standard HTTP_PROXY, HTTPS_PROXY and NO_PROXY variables apply.
type ProxyConfig struct {
	HTTPProxy   string `yaml:"http_proxy,omitempty"`
	HTTPSProxy  string `yaml:"https_proxy,omitempty"`
	NoProxy     string `yaml:"no_proxy,omitempty"`
	SOCKS5Proxy string `yaml:"socks5_proxy,omitempty"`
}

// HasProxy reports whether an explicit proxy is configured.
func (p *ProxyConfig) HasProxy() bool {
	return p != nil && (p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != "")
}

// Validate checks that the configured proxy URLs parse.
func (p *ProxyConfig) Validate() error {
	if p == nil {
		return nil
	}
	for name, raw := range map[string]string{
		"http_proxy":   p.HTTPProxy,
		"https_proxy":  p.HTTPSProxy,
		"socks5_proxy": p.SOCKS5Proxy,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%s %q is not a valid URL", name, raw)
		}
	}
	return nil
}
