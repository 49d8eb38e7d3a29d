package state

// Raw status codes reported by device session providers.
const (
	RawInChat             = "inChat"
	RawIsLogged           = "isLogged"
	RawNotLogged          = "notLogged"
	RawBrowserClose       = "browserClose"
	RawServerClose        = "serverClose"
	RawQRReadError        = "qrReadError"
	RawQRReadFail         = "qrReadFail"
	RawQRReadSuccess      = "qrReadSuccess"
	RawDesconnectedMobile = "desconnectedMobile"
	RawDisconnectedMobile = "disconnectedMobile"
	RawAutocloseCalled    = "autocloseCalled"
)

// Raw connection-state codes from a provider's state-change callback.
const (
	RawStateConnected  = "CONNECTED"
	RawStateConflict   = "CONFLICT"
	RawStateUnlaunched = "UNLAUNCHED"
)

// Translation is the canonical outcome of a raw status code.
type Translation struct {
	State State
	// Known is false when the code fell through to the default branch.
	Known bool
	// Reconnect asks the caller to tear down and schedule a reconnect.
	Reconnect bool
}

var statusTable = map[string]Translation{
	RawInChat:             {State: StateConnected, Known: true},
	RawIsLogged:           {State: StateConnected, Known: true},
	RawNotLogged:          {State: StateAwaitingQRScan, Known: true},
	RawBrowserClose:       {State: StateError, Known: true},
	RawServerClose:        {State: StateError, Known: true},
	RawQRReadError:        {State: StateError, Known: true},
	RawQRReadFail:         {State: StateError, Known: true},
	RawQRReadSuccess:      {State: StateConnecting, Known: true},
	RawDesconnectedMobile: {State: StateDisconnected, Known: true},
	RawDisconnectedMobile: {State: StateDisconnected, Known: true},
	RawAutocloseCalled:    {State: StateError, Known: true, Reconnect: true},
}

// Translate maps a raw provider status to its canonical state. Unknown codes
// map to Connecting with Known unset.
func Translate(raw string) Translation {
	if t, ok := statusTable[raw]; ok {
		return t
	}
	return Translation{State: StateConnecting}
}

// IsDisconnectState reports whether a raw state-change code means the device
// session was lost and must be reconnected.
func IsDisconnectState(raw string) bool {
	return raw == RawStateConflict || raw == RawStateUnlaunched
}
