package bitcoinrpc

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveCredentials resolves RPC credentials in priority order:
// explicit config, the node's cookie file, rpcuser/rpcpassword from
// bitcoin.conf, then the hard-coded development fallback
// ("bitcoinrpc"/"bitcoinrpc"). Mirrors the original implementation's
// from_config_with_defaults resolution order.
func ResolveCredentials(explicitUser, explicitPass string) (user, pass string) {
	if explicitUser != "" && explicitPass != "" {
		return explicitUser, explicitPass
	}

	if u, p, ok := readCookie(cookiePath()); ok {
		return u, p
	}

	if u, p, ok := readBitcoinConf(bitcoinConfPath()); ok {
		return u, p
	}

	return "bitcoinrpc", "bitcoinrpc"
}

func cookiePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Bitcoin", ".cookie")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "Bitcoin", ".cookie")
	default:
		return filepath.Join(home, ".bitcoin", ".cookie")
	}
}

func bitcoinConfPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Bitcoin", "bitcoin.conf")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "Bitcoin", "bitcoin.conf")
	default:
		return filepath.Join(home, ".bitcoin", "bitcoin.conf")
	}
}

func readCookie(path string) (user, pass string, ok bool) {
	if path == "" {
		return "", "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", false
	}
	cookie := strings.TrimSpace(string(data))
	u, p, found := strings.Cut(cookie, ":")
	if !found {
		return "", "", false
	}
	return u, p, true
}

func readBitcoinConf(path string) (user, pass string, ok bool) {
	if path == "" {
		return "", "", false
	}
	f, err := os.Open(path)
	if err != nil {
		return "", "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if v, found := strings.CutPrefix(line, "rpcuser="); found {
			user = v
		}
		if v, found := strings.CutPrefix(line, "rpcpassword="); found {
			pass = v
		}
	}
	if user != "" && pass != "" {
		return user, pass, true
	}
	return "", "", false
}
