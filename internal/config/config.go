package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Default configuration values (production)
const (
	DefaultDomain     = "rooms.lingo-connect.app"
	DefaultListenAddr = ":8080"
	DefaultSTUN       = "stun:stun.l.google.com:19302"
	DefaultTURN       = "" // Optional, empty by default
	DefaultTURNUser   = ""
	DefaultTURNPass   = ""
)

// Config holds application configuration shared by the server and the
// room client.
type Config struct {
	// Domain is the signaling server domain
	Domain string

	// WebSocketURL is constructed from domain
	WebSocketURL string

	// APIBaseURL is the REST base constructed from domain
	APIBaseURL string

	// ListenAddr is the serve command's bind address
	ListenAddr string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain     string
	ListenAddr string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	Insecure   bool // use ws:// and http:// instead of wss:// and https://
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (a .env file is honored when present)
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	// Best effort; absence of a .env file is the normal case.
	_ = godotenv.Load()

	domain := firstNonEmpty(opts.Domain, os.Getenv("DOMAIN"), DefaultDomain)
	listenAddr := firstNonEmpty(opts.ListenAddr, os.Getenv("LISTEN_ADDR"), DefaultListenAddr)
	stunServer := firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN)
	turnServer := firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER"), DefaultTURN)
	turnUser := firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME"), DefaultTURNUser)
	turnPass := firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD"), DefaultTURNPass)

	wsScheme, httpScheme := "wss", "https"
	if opts.Insecure || os.Getenv("INSECURE") == "1" {
		wsScheme, httpScheme = "ws", "http"
	}

	return &Config{
		Domain:       domain,
		WebSocketURL: fmt.Sprintf("%s://%s/ws", wsScheme, domain),
		APIBaseURL:   fmt.Sprintf("%s://%s/api", httpScheme, domain),
		ListenAddr:   listenAddr,
		STUNServer:   stunServer,
		TURNServer:   turnServer,
		TURNUser:     turnUser,
		TURNPass:     turnPass,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
