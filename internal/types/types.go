package types

// Identity is the verified principal produced by the token verifier. The
// room hub never reads name/picture from inbound frames; every outbound
// envelope that attributes a sender substitutes these values instead.
type Identity struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}
