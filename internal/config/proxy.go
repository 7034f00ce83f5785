package config

import "net/url"

func splitProxyAuth(p ProxyConfig) (proxyURL, username, password string) {
	proxyURL, username, password = p.URL, p.Username, p.Password
	parsed, err := url.Parse(p.URL)
	if err != nil || parsed.User == nil || username != "" {
		return proxyURL, username, password
	}
	username = parsed.User.Username()
	if pw, set := parsed.User.Password(); set {
		password = pw
	}
	parsed.User = nil
	return parsed.String(), username, password
}
