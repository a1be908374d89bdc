package core

import "time"

// Challenge represents an issued sign-in challenge
type Challenge struct {
	Address   string       // Address the nonce is bound to
	Family    WalletFamily // Signing scheme of the address
	Nonce     string       // Single-use random nonce
	Message   string       // Canonical text the wallet signs
	IssuedAt  time.Time    // When the challenge was created
	ExpiresAt time.Time    // When the nonce expires
}

// Credentials is a signed challenge submitted by a wallet
type Credentials struct {
	Address    string
	Family     WalletFamily
	WalletType string // Provider name, e.g. "HASHPACK"
	Signature  string
	Message    string
	PublicKey  string // Required for Hedera, ignored by EVM
}

// DeviceInfo holds the client-reported device attributes
type DeviceInfo struct {
	UserAgent        string `json:"user_agent"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	IPAddress        string `json:"ip_address"`
	BrowserSignature string `json:"browser_signature,omitempty"`
}

// Empty reports whether no device attribute was supplied
func (d *DeviceInfo) Empty() bool {
	return d == nil || (d.UserAgent == "" && d.ScreenResolution == "" && d.Timezone == "" &&
		d.Language == "" && d.IPAddress == "" && d.BrowserSignature == "")
}
